package errors

// Reason narrows a Code to the lifecycle rule that was violated.
type Reason string

const (
	ReasonTableOccupied      Reason = "TABLE_OCCUPIED"
	ReasonTableInactive      Reason = "TABLE_INACTIVE"
	ReasonAlreadyClosed      Reason = "ALREADY_CLOSED"
	ReasonSessionClosed      Reason = "SESSION_CLOSED"
	ReasonProductUnavailable Reason = "PRODUCT_UNAVAILABLE"
	ReasonInvalidQuantity    Reason = "INVALID_QUANTITY"
	ReasonEmptyOrder         Reason = "EMPTY_ORDER"
	ReasonOrderNotPending    Reason = "ORDER_NOT_PENDING"
	ReasonInvalidTransition  Reason = "INVALID_TRANSITION"
	ReasonOrderNotSent       Reason = "ORDER_NOT_SENT"
	ReasonOrderFullyPaid     Reason = "ORDER_FULLY_PAID"
	ReasonInvalidCode        Reason = "INVALID_CODE"
	ReasonAlreadyValidated   Reason = "ALREADY_VALIDATED"
	ReasonAlreadyPaid        Reason = "ALREADY_PAID"
	ReasonPaymentNotValid    Reason = "PAYMENT_NOT_VALIDATED"
)

// reasonRetryable overrides the code-level retry hint. Consumed codes and
// settled payments must never be resubmitted; stock may free up later.
var reasonRetryable = map[Reason]bool{
	ReasonInvalidCode:        false,
	ReasonAlreadyValidated:   false,
	ReasonAlreadyPaid:        false,
	ReasonAlreadyClosed:      false,
	ReasonProductUnavailable: true,
	ReasonTableOccupied:      false,
}
