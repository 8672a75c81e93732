package orders

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus evolves independently of Status; a nil *PaymentStatus on an
// order means no payment was ever attempted.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (p PaymentStatus) Settled() bool {
	return p == PaymentPaid || p == PaymentFailed
}

// checkTransition applies the status table plus the payment pairing rule:
// an order only leaves PENDING for PROCESSING, or completes, once its payment
// is PAID. The webhook is the normal way an order reaches PROCESSING.
func checkTransition(o Order, to Status) error {
	if o.Status.Terminal() {
		return invalidTransition(o.Status, to)
	}
	if !CanTransition(o.Status, to) {
		return invalidTransition(o.Status, to)
	}
	paid := o.PaymentStatus != nil && *o.PaymentStatus == PaymentPaid
	if to == StatusProcessing && !paid {
		return invalidTransitionf("order %s cannot be processed before payment is confirmed", o.ID)
	}
	if to == StatusCompleted && !paid {
		return invalidTransitionf("order %s cannot complete before payment is confirmed", o.ID)
	}
	return nil
}
