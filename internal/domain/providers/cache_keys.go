package providers

import "fmt"

// QueueCacheKey is the key for a clinic's active queue
func QueueCacheKey(clinicID string) string {
	return fmt.Sprintf("queue:%s", clinicID)
}

// EntryStatusCacheKey is the key for one patient's status within a clinic's queue
func EntryStatusCacheKey(clinicID, entryID string) string {
	return fmt.Sprintf("queue:%s:entry:%s", clinicID, entryID)
}

// StatsCacheKey is the key for a clinic's daily stats
func StatsCacheKey(clinicID string) string {
	return fmt.Sprintf("stats:%s", clinicID)
}

// ClinicCacheKey is the key for clinic metadata
func ClinicCacheKey(clinicID string) string {
	return fmt.Sprintf("clinic:%s", clinicID)
}

// NamespacePattern matches every key nested under base, e.g. "queue:12:*".
// The bare base key is not matched and must be deleted on its own.
func NamespacePattern(base string) string {
	return base + ":*"
}
