package events

import (
	"context"
	"fmt"
	"strings"

	pubnub "github.com/pubnub/go/v7"
	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/pkg/config"
)

var _ providers.EventMirror = (*PubNubMirror)(nil)

type publishFunc func(channel string, message interface{}) (int, error)

// PubNubMirror republishes queue events to PubNub so patient pages can
// subscribe without holding an SSE connection to the API
type PubNubMirror struct {
	publish publishFunc
}

// NewPubNubMirror creates a mirror from PubNub keys
func NewPubNubMirror(cfg config.PubNubConfig) (*PubNubMirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("pubnub publish and subscribe keys are required")
	}
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey

	pn := pubnub.NewPubNub(pnConfig)
	return &PubNubMirror{
		publish: func(channel string, message interface{}) (int, error) {
			_, status, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return status.StatusCode, err
		},
	}, nil
}

// Mirror publishes the event on a PubNub channel of the same name.
// PubNub channel names may not contain ':' so it is mapped to '.'.
func (m *PubNubMirror) Mirror(ctx context.Context, event *entities.QueueEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel := PubNubChannel(event.Channel)
	status, err := m.publish(channel, event)
	if err != nil {
		return fmt.Errorf("failed to publish to pubnub channel %s: %w", channel, err)
	}
	log.Debug().Str("channel", channel).Int("status", status).Str("event_id", event.ID).Msg("mirrored event to pubnub")
	return nil
}

// PubNubChannel maps an internal channel name to a PubNub channel name
func PubNubChannel(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}
