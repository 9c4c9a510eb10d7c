package orders

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusProcessing       Status = "PROCESSING"
	StatusReadyForShipping Status = "READY_FOR_SHIPPING"
	StatusShipped          Status = "SHIPPED"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusFailed           Status = "FAILED"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// CANCELLED dan FAILED boleh dari state non-terminal manapun.
var validNext = map[Status]map[Status]bool{
	StatusPending:          {StatusProcessing: true, StatusCancelled: true, StatusFailed: true},
	StatusProcessing:       {StatusReadyForShipping: true, StatusCancelled: true, StatusFailed: true},
	StatusReadyForShipping: {StatusShipped: true, StatusCancelled: true, StatusFailed: true},
	StatusShipped:          {StatusDelivered: true, StatusCancelled: true, StatusFailed: true},
	StatusDelivered:        {},
	StatusCancelled:        {},
	StatusFailed:           {},
}

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:    {PaymentSuccessful: true, PaymentFailed: true},
	PaymentSuccessful: {PaymentRefunded: true},
	PaymentFailed:     {},
	PaymentRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
