package domain

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderAccepted       OrderStatus = "ACCEPTED"
	OrderDenied         OrderStatus = "DENIED"
	OrderPreparing      OrderStatus = "PREPARING"
	OrderReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderDispatched     OrderStatus = "DISPATCHED"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderFailed         OrderStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderDenied, OrderDelivered, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// CancelReason codes mirror the partner platform's cancellation reasons.
type CancelReason string

const (
	CancelCustomerRequested   CancelReason = "CUSTOMER_REQUESTED"
	CancelMerchantRejected    CancelReason = "MERCHANT_REJECTED"
	CancelMerchantUnavailable CancelReason = "MERCHANT_UNAVAILABLE"
	CancelItemsUnavailable    CancelReason = "ITEMS_UNAVAILABLE"
	CancelDeliveryIssue       CancelReason = "DELIVERY_ISSUE"
	CancelPaymentFailed       CancelReason = "PAYMENT_FAILED"
	CancelFraud               CancelReason = "FRAUD"
	CancelOther               CancelReason = "OTHER"
)

// FailureReasonTimeout is recorded when an order expires in PENDING without
// an accept or deny action inside the acceptance window.
const FailureReasonTimeout = "ORDER_TIMEOUT"

// FulfillmentIssue is an open problem reported against an in-flight order.
type FulfillmentIssue struct {
	Type        string    `json:"type" bson:"type"`
	Description string    `json:"description" bson:"description"`
	ReportedAt  time.Time `json:"reported_at" bson:"reported_at"`
}

// Order is the locally-tracked lifecycle record for a partner order. Status
// is mutated exclusively through Apply; the version counter increments on
// every accepted transition and guards against out-of-order event application.
type Order struct {
	ID                 string            `json:"id" bson:"_id"`
	StoreID            string            `json:"store_id" bson:"store_id"`
	Status             OrderStatus       `json:"status" bson:"status"`
	Version            int64             `json:"version" bson:"version"`
	AcceptedETA        *time.Time        `json:"accepted_eta,omitempty" bson:"accepted_eta,omitempty"`
	CancellationReason CancelReason      `json:"cancellation_reason,omitempty" bson:"cancellation_reason,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	OpenIssue          *FulfillmentIssue `json:"open_issue,omitempty" bson:"open_issue,omitempty"`
	Scheduled          bool              `json:"scheduled" bson:"scheduled"`
	ScheduledFor       *time.Time        `json:"scheduled_for,omitempty" bson:"scheduled_for,omitempty"`
	PlacedAt           time.Time         `json:"placed_at" bson:"placed_at"`
	UpdatedAt          time.Time         `json:"updated_at" bson:"updated_at"`
}

// NewOrder creates an order in PENDING at version 1.
func NewOrder(orderID, storeID string, placedAt time.Time, scheduledFor *time.Time) *Order {
	return &Order{
		ID:           orderID,
		StoreID:      storeID,
		Status:       OrderPending,
		Version:      1,
		Scheduled:    scheduledFor != nil,
		ScheduledFor: scheduledFor,
		PlacedAt:     placedAt,
		UpdatedAt:    placedAt,
	}
}
