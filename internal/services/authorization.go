package services

import (
	domain "github.com/MustafaPinjari/Ironydjango/internal/domain"
)

// customerCancellableStatuses are the states a customer may cancel out of.
// Staff cancellations further along the pipeline go through admin.
var customerCancellableStatuses = []OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// MayTransition reports whether the actor may move the order to the requested
// status. The predicate is pure: it performs no I/O and never mutates the
// order. Admins and superusers pass unconditionally; customers act only on
// their own orders; press and delivery staff act within their pipeline
// segment, claiming unassigned orders on first touch.
func MayTransition(actor Actor, order Order, requested OrderStatus) bool {
	if actor.IsAdmin() {
		return true
	}

	switch actor.Role {
	case domain.RoleCustomer:
		if actor.ID == "" || actor.ID != order.CustomerID {
			return false
		}
		switch requested {
		case domain.OrderStatusCancelled:
			return statusIn(order.Status, customerCancellableStatuses)
		case domain.OrderStatusConfirmed:
			return order.Status == domain.OrderStatusDraft || order.Status == domain.OrderStatusPending
		}
		return false

	case domain.RolePress:
		switch requested {
		case domain.OrderStatusScheduledForPickup, domain.OrderStatusProcessing, domain.OrderStatusReady:
		default:
			return false
		}
		return order.AssignedStaffID == nil || *order.AssignedStaffID == actor.ID

	case domain.RoleDelivery:
		switch requested {
		case domain.OrderStatusOutForPickup:
			return order.DeliveryPersonID == nil || *order.DeliveryPersonID == actor.ID
		case domain.OrderStatusPickedUp, domain.OrderStatusOutForDelivery, domain.OrderStatusCompleted:
			return order.DeliveryPersonID != nil && *order.DeliveryPersonID == actor.ID
		}
		return false
	}

	return false
}

// canViewOrder reports whether the actor may read the order at all. Owners
// see their own orders; press and delivery staff see orders assigned to them
// plus unassigned orders sitting in their claimable queue states.
func canViewOrder(actor Actor, order Order) bool {
	if actor.IsAdmin() {
		return true
	}

	switch actor.Role {
	case domain.RoleCustomer:
		return actor.ID != "" && actor.ID == order.CustomerID
	case domain.RolePress:
		if order.AssignedStaffID != nil {
			return *order.AssignedStaffID == actor.ID
		}
		return statusIn(order.Status, pressQueueStatuses)
	case domain.RoleDelivery:
		if order.DeliveryPersonID != nil {
			return *order.DeliveryPersonID == actor.ID
		}
		return order.Status == domain.OrderStatusScheduledForPickup || order.Status == domain.OrderStatusReady
	}

	return false
}

// canEditItems reports whether the actor may add, change, or remove line
// items on the order. Ownership is required; the status gate is checked
// separately so callers can distinguish forbidden from not-editable.
func canEditItems(actor Actor, order Order) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.Role == domain.RoleCustomer && actor.ID != "" && actor.ID == order.CustomerID
}

func statusIn(status OrderStatus, set []OrderStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}
