package orders

const (
	TopicOrderPlaced    = "checkout.order.placed"
	TopicOrderConfirmed = "checkout.order.confirmed"
	TopicOrderCancelled = "checkout.order.cancelled"
)

// Partition key = order_id so all events of one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
