package orders

const (
	TopicCheckoutCompleted  = "checkout.completed"
	TopicCheckoutChallenge  = "checkout.challenge"
	TopicPaymentFailed      = "checkout.payment.failed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockReleased      = "order.stock.released"
)

// Partition key = order_id so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
