package events

// Topic constants for domain events emitted by the discount engine and admin services.
const (
	TopicRunCompleted   = "discount.run.completed"
	TopicRuleChanged    = "discount.rule.changed"
	TopicProductCreated = "catalog.product.created"
	TopicBatchCreated   = "inventory.batch.created"
)

// DefaultTopics returns every topic that affects priced state or analytics.
func DefaultTopics() []string {
	return []string{
		TopicRunCompleted,
		TopicRuleChanged,
		TopicProductCreated,
		TopicBatchCreated,
	}
}
