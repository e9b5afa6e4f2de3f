package orders

import "strconv"

const (
	TopicPaymentConfirmed = "order.payment.confirmed"
	TopicPaymentFailed    = "order.payment.failed"
	TopicOrderCancelled   = "order.cancelled"

	// Operator commands consumed by the worker.
	TopicCancelRequested = "order.cancel.requested"
)

// Partition key = order id, supaya semua event 1 order tetap berurutan.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
