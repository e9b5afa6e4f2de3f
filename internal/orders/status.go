package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusOnHold     Status = "on-hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Payment outcomes only move forward. A failed or cancelled order can still
// take a confirmed payment; nothing leaves processing except fulfilment or refund.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusOnHold: true, StatusProcessing: true, StatusCompleted: true, StatusCancelled: true, StatusFailed: true},
	StatusOnHold:     {StatusPending: true, StatusProcessing: true, StatusCompleted: true, StatusCancelled: true, StatusFailed: true},
	StatusFailed:     {StatusPending: true, StatusProcessing: true, StatusCompleted: true, StatusCancelled: true},
	StatusCancelled:  {StatusProcessing: true, StatusCompleted: true},
	StatusProcessing: {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted:  {StatusRefunded: true},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// AwaitingPayment reports whether the order is in a status a checkout can
// still settle or a timeout can cancel.
func (s Status) AwaitingPayment() bool {
	return s == StatusPending || s == StatusOnHold
}
