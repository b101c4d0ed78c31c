package events

// Topic constants for domain events emitted by the engine.
const (
	TopicReceiptParsed     = "receipt.parsed"
	TopicReceiptReconciled = "receipt.reconciled"
	TopicSplitFinalized    = "split.finalized"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicReceiptParsed,
		TopicReceiptReconciled,
		TopicSplitFinalized,
	}
}
