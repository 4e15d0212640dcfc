package order

import (
	"fmt"
	"slices"

	"github.com/xenking/kart-fulfillment/internal/domain"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusPaymentExpired Status = "PAYMENT_EXPIRED"
	StatusRefunded       Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPaid, StatusCancelled, StatusPaymentExpired},
	StatusPaid:           {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:        {StatusDelivered},
	StatusCancelled:      {StatusRefunded},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPendingPayment,
	StatusPaid,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusPaymentExpired,
	StatusRefunded,
}

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = fmt.Errorf("%w: unknown order status", domain.ErrValidation)

// ParseStatus converts a stored or requested status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !slices.Contains(AllStatuses, st) {
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// IsTerminal reports a status with no outgoing transitions. CANCELLED is not
// terminal because it can still be refunded.
func (s Status) IsTerminal() bool { return len(transitions[s]) == 0 }

func (s Status) String() string { return string(s) }

// TransitionError is returned when an action is not allowed from the
// current status. The order is left unchanged.
type TransitionError struct {
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return domain.ErrInvalidState }
