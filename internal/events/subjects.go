package events

// NATS subject constants for plugin lifecycle events.
// Format: listingcore.plugin.<action>

const (
	SubjectPluginLoaded   = "listingcore.plugin.loaded"
	SubjectPluginEnabled  = "listingcore.plugin.enabled"
	SubjectPluginDisabled = "listingcore.plugin.disabled"
	SubjectPluginReloaded = "listingcore.plugin.reloaded"
	SubjectPluginFailed   = "listingcore.plugin.failed"

	// SubjectDLQPrefix namespaces dead-letter notifications distinct from
	// the pkg/queue dead_letter topic, which carries the actual event body.
	SubjectDLQPrefix = "listingcore.dlq"
)

// DLQSubject returns the dead-letter notification subject for a given subject.
func DLQSubject(subject string) string {
	return SubjectDLQPrefix + "." + subject
}
