package orders

const (
	TopicOrderCreated      = "order.created"
	TopicOrderUpdated      = "order.updated"
	TopicOrderStateChanged = "order.state.changed"
	TopicOrderDeleted      = "order.deleted"
)

// Topics lists every lifecycle topic.
var Topics = []string{TopicOrderCreated, TopicOrderUpdated, TopicOrderStateChanged, TopicOrderDeleted}

// Partition key = order_id so events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
