package enums

import "fmt"

// OrderStatus tracks one round of items from cart to service.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSent      OrderStatus = "sent"
	OrderStatusInPrep    OrderStatus = "in_prep"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusSent,
	OrderStatusInPrep,
	OrderStatusReady,
	OrderStatusServed,
	OrderStatusCancelled,
}

// orderTransitions lists every legal forward move. Anything absent is rejected.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusSent},
	OrderStatusSent:    {OrderStatusInPrep, OrderStatusReady, OrderStatusServed, OrderStatusCancelled},
	OrderStatusInPrep:  {OrderStatusReady, OrderStatusServed, OrderStatusCancelled},
	OrderStatusReady:   {OrderStatusServed, OrderStatusCancelled},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which next may be reached.
func SourcesFor(next OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range validOrderStatuses {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}
	return sources
}

// IsInKitchen reports whether the order has been sent and not yet finished.
func (s OrderStatus) IsInKitchen() bool {
	return s == OrderStatusSent || s == OrderStatusInPrep || s == OrderStatusReady
}

// IsPayable reports whether payments may be created against the order.
func (s OrderStatus) IsPayable() bool {
	return s.IsInKitchen() || s == OrderStatusServed
}

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusServed || s == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
