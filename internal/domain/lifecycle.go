package domain

import "time"

// ActionType enumerates everything that can drive an order transition,
// whether it originated from an inbound webhook event or an operator call.
type ActionType string

const (
	ActionAccept         ActionType = "accept"
	ActionDeny           ActionType = "deny"
	ActionCancel         ActionType = "cancel"
	ActionStartPreparing ActionType = "start_preparing"
	ActionMarkReady      ActionType = "mark_ready"
	ActionMarkDispatched ActionType = "mark_dispatched"
	ActionMarkDelivered  ActionType = "mark_delivered"
	ActionReportIssue    ActionType = "report_issue"
	ActionResolveIssue   ActionType = "resolve_issue"
	ActionTimeout        ActionType = "timeout"
)

// ActionOrigin distinguishes operator-initiated actions, which must notify
// the partner platform, from inbound partner events, which must not.
type ActionOrigin string

const (
	OriginOperator ActionOrigin = "operator"
	OriginPartner  ActionOrigin = "partner"
)

// Action is a single requested transition. OrderVersion, when non-zero,
// carries the order snapshot version embedded in the triggering event and is
// compared against the stored version to discard stale deliveries.
type Action struct {
	Type          ActionType
	Origin        ActionOrigin
	ETAMinutes    int
	Reason        CancelReason
	Details       string
	Issue         *FulfillmentIssue
	Unrecoverable bool
	OrderVersion  int64
}

// IntentKind names an outbound partner call owed after a transition.
type IntentKind string

const (
	IntentNotifyAccept IntentKind = "notify_accept"
	IntentNotifyDeny   IntentKind = "notify_deny"
	IntentNotifyReady  IntentKind = "notify_ready"
	IntentNotifyCancel IntentKind = "notify_cancel"
)

// Intent is a side effect owed to the partner platform after a transition.
// Apply returns intents instead of performing I/O so the transition logic
// stays pure; the order service executes them through the outbound gateway.
type Intent struct {
	Kind       IntentKind
	OrderID    string
	ETAMinutes int
	Reason     CancelReason
	Details    string
}

// target returns the status an action drives the order toward, or "" when
// the action does not move the order (issue reporting and resolution back to
// the prior state).
func (a Action) target(current OrderStatus) OrderStatus {
	switch a.Type {
	case ActionAccept:
		return OrderAccepted
	case ActionDeny:
		return OrderDenied
	case ActionCancel:
		return OrderCancelled
	case ActionStartPreparing:
		return OrderPreparing
	case ActionMarkReady:
		return OrderReadyForPickup
	case ActionMarkDispatched:
		return OrderDispatched
	case ActionMarkDelivered:
		return OrderDelivered
	case ActionTimeout:
		return OrderFailed
	case ActionResolveIssue:
		if a.Unrecoverable {
			return OrderFailed
		}
		return current
	}
	return current
}

// legalFrom lists the source states from which each action may fire. Cancel
// and issue handling are validated separately since they apply to any
// non-terminal state.
var legalFrom = map[ActionType][]OrderStatus{
	ActionAccept:         {OrderPending},
	ActionDeny:           {OrderPending},
	ActionStartPreparing: {OrderAccepted},
	ActionMarkReady:      {OrderPreparing},
	ActionMarkDispatched: {OrderReadyForPickup},
	ActionMarkDelivered:  {OrderDispatched},
	ActionTimeout:        {OrderPending},
}

// Apply is the transition function for the order lifecycle. It is pure: it
// never performs I/O and returns the updated order together with the
// outbound intents the caller owes the partner platform.
//
// Re-applying an action whose target state is already held is a no-op
// success, which makes at-least-once event delivery safe. An action carrying
// a stale order version returns ErrStaleVersion and leaves the order
// untouched. Anything else outside the transition graph returns
// IllegalTransitionError.
func Apply(order *Order, act Action, now time.Time) (*Order, []Intent, error) {
	if act.OrderVersion > 0 && act.OrderVersion < order.Version {
		return order, nil, ErrStaleVersion
	}

	// Duplicate delivery of a transition already taken.
	if t := act.target(order.Status); t == order.Status && act.Type != ActionReportIssue && act.Type != ActionResolveIssue {
		return order, nil, nil
	}

	next := *order
	var intents []Intent

	switch act.Type {
	case ActionCancel:
		if order.Status.Terminal() {
			return order, nil, &IllegalTransitionError{OrderID: order.ID, From: order.Status, Action: act.Type}
		}
		next.Status = OrderCancelled
		next.CancellationReason = act.Reason
		if act.Origin == OriginOperator {
			intents = append(intents, Intent{Kind: IntentNotifyCancel, OrderID: order.ID, Reason: act.Reason, Details: act.Details})
		}

	case ActionReportIssue:
		if order.Status.Terminal() {
			return order, nil, &IllegalTransitionError{OrderID: order.ID, From: order.Status, Action: act.Type}
		}
		if order.OpenIssue != nil && act.Issue != nil && order.OpenIssue.Type == act.Issue.Type {
			return order, nil, nil
		}
		next.OpenIssue = act.Issue

	case ActionResolveIssue:
		if order.Status.Terminal() || order.OpenIssue == nil {
			return order, nil, &IllegalTransitionError{OrderID: order.ID, From: order.Status, Action: act.Type}
		}
		if act.Unrecoverable {
			next.Status = OrderFailed
			next.FailureReason = order.OpenIssue.Type
		}
		// Resolving back to the prior non-terminal state leaves the status
		// where it was; only the issue is cleared.
		next.OpenIssue = nil

	default:
		if !actionAllowed(act.Type, order.Status) {
			return order, nil, &IllegalTransitionError{OrderID: order.ID, From: order.Status, Action: act.Type}
		}
		next.Status = act.target(order.Status)
		switch act.Type {
		case ActionAccept:
			eta := now.Add(time.Duration(act.ETAMinutes) * time.Minute)
			next.AcceptedETA = &eta
			intents = append(intents, Intent{Kind: IntentNotifyAccept, OrderID: order.ID, ETAMinutes: act.ETAMinutes, Details: act.Details})
		case ActionDeny:
			next.CancellationReason = act.Reason
			intents = append(intents, Intent{Kind: IntentNotifyDeny, OrderID: order.ID, Reason: act.Reason, Details: act.Details})
		case ActionMarkReady:
			if act.Origin == OriginOperator {
				intents = append(intents, Intent{Kind: IntentNotifyReady, OrderID: order.ID})
			}
		case ActionTimeout:
			next.FailureReason = FailureReasonTimeout
		}
	}

	next.Version = order.Version + 1
	next.UpdatedAt = now
	return &next, intents, nil
}

func actionAllowed(t ActionType, from OrderStatus) bool {
	for _, s := range legalFrom[t] {
		if s == from {
			return true
		}
	}
	return false
}
