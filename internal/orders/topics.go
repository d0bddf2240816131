package orders

const (
	TopicOrderConfirmed  = "order.confirmed"
	TopicOrderCancelled  = "order.cancelled"
	TopicRefundRequested = "payment.refund.requested"
	TopicStopDelivered   = "delivery.stop.delivered"
	TopicBatchCompleted  = "delivery.batch.completed"
	TopicAddressRevealed = "delivery.address.revealed"
	TopicPayoutSettled   = "payout.settled"
	TopicCreditsAwarded  = "credits.awarded"
)

// Partition key = order_id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
