package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/domain/providers"
	"github.com/doctorq/backend/pkg/config"
)

func okResponse(id string) WhatsAppResponse {
	return WhatsAppResponse{
		MessagingProduct: "whatsapp",
		Messages: []struct {
			ID string `json:"id"`
		}{{ID: id}},
	}
}

func newTestSender(server *httptest.Server, template string) *WhatsAppCloudSender {
	return &WhatsAppCloudSender{
		accessToken:   "test_token",
		phoneNumberID: "123456789",
		templateName:  template,
		languageCode:  "en",
		httpClient:    server.Client(),
		baseURL:       server.URL,
	}
}

func TestNewWhatsAppCloudSender(t *testing.T) {
	tests := []struct {
		name          string
		accessToken   string
		phoneNumberID string
		wantErr       bool
	}{
		{name: "Valid credentials", accessToken: "test_token", phoneNumberID: "123456789"},
		{name: "Missing access token", phoneNumberID: "123456789", wantErr: true},
		{name: "Missing phone number ID", accessToken: "test_token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewWhatsAppCloudSender(config.WhatsAppConfig{
				AccessToken:   tt.accessToken,
				PhoneNumberID: tt.phoneNumberID,
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultWhatsAppBaseURL, sender.baseURL)
			assert.Equal(t, "en", sender.languageCode)
		})
	}
}

func TestWhatsAppCloudSender_SendTurnAlert_Template(t *testing.T) {
	var got WhatsAppTemplateMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/123456789/messages", r.URL.Path)
		assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(okResponse("wamid.turn1"))
	}))
	defer server.Close()

	sender := newTestSender(server, "queue_turn_alert")
	err := sender.SendTurnAlert(context.Background(), providers.TurnAlert{
		Phone:       "+919876543210",
		PatientName: "Asha",
		ClinicName:  "Sunrise Clinic",
		PeopleAhead: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "queue_turn_alert", got.Template.Name)
	require.Len(t, got.Template.Components, 1)
	params := got.Template.Components[0].Parameters
	require.Len(t, params, 3)
	assert.Equal(t, "Asha", params[0].Text)
	assert.Equal(t, "Sunrise Clinic", params[1].Text)
	assert.Equal(t, "2", params[2].Text)
}

func TestWhatsAppCloudSender_SendTurnAlert_TextFallback(t *testing.T) {
	var got WhatsAppTextMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(okResponse("wamid.turn2"))
	}))
	defer server.Close()

	sender := newTestSender(server, "")
	err := sender.SendTurnAlert(context.Background(), providers.TurnAlert{
		Phone:      "+919876543210",
		ClinicName: "Sunrise Clinic",
	})
	require.NoError(t, err)

	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "Hi there, your turn at Sunrise Clinic is coming up. You are next. Please be ready.", got.Text.Body)
}

func TestWhatsAppCloudSender_Errors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   WhatsAppResponse
	}{
		{name: "API rate limit error", statusCode: http.StatusTooManyRequests},
		{name: "No message id", statusCode: http.StatusOK, response: WhatsAppResponse{MessagingProduct: "whatsapp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			_, err := newTestSender(server, "").SendText(context.Background(), "+919876543210", "hello")
			assert.Error(t, err)
		})
	}
}
