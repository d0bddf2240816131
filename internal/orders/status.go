package orders

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusLocked         Status = "locked"
	StatusInBatch        Status = "in_batch"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusLocked: true, StatusCancelled: true},
	StatusLocked:         {StatusInBatch: true, StatusCancelled: true},
	StatusInBatch:        {StatusDelivered: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Cancellable reports whether the order has not yet been put on a route.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

type PaymentStatus string

const (
	PaymentRequiresPayment PaymentStatus = "requires_payment"
	PaymentSucceeded       PaymentStatus = "succeeded"
	PaymentFailed          PaymentStatus = "failed"
	PaymentCanceled        PaymentStatus = "canceled"
	PaymentRefunded        PaymentStatus = "refunded"
	PaymentNotRequired     PaymentStatus = "not_required"
)

// Payment events can be redelivered or arrive out of order; a status only
// moves along these edges, so a stale "failed" after "succeeded" is ignored.
var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentRequiresPayment: {PaymentSucceeded: true, PaymentFailed: true, PaymentCanceled: true},
	PaymentFailed:          {PaymentSucceeded: true, PaymentCanceled: true},
	PaymentSucceeded:       {PaymentRefunded: true},
	PaymentCanceled:        {},
	PaymentRefunded:        {},
	PaymentNotRequired:     {},
}

func CanAdvancePayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}
