package domain

// Explicit transition tables for the two state machines. Any edge not listed
// here is illegal and yields an *IllegalTransitionError; transitions are
// never inferred from status strings.

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingSubmit: {OrderSent, OrderFilled, OrderRejected, OrderFailed},
	OrderSent:          {OrderFilled, OrderRejected, OrderFailed},
	// A FAILED order may be resubmitted when the retry policy authorises a
	// new attempt; FILLED and REJECTED are terminal.
	OrderFailed: {OrderSent, OrderFilled, OrderRejected},
}

var positionTransitions = map[PositionStatus][]PositionStatus{
	PositionPendingEntry: {PositionOpen},
	PositionOpen:         {PositionClosed},
}

// CanTransition reports whether the order may move from its current status
// to the target status.
func (o *Order) CanTransition(to OrderStatus) bool {
	for _, t := range orderTransitions[o.Status] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the target status, or returns an
// *IllegalTransitionError if the edge is not in the transition table.
func (o *Order) Transition(to OrderStatus) error {
	if !o.CanTransition(to) {
		return &IllegalTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(to)}
	}
	o.Status = to
	return nil
}

// CanTransition reports whether the position may move from its current
// status to the target status.
func (p *Position) CanTransition(to PositionStatus) bool {
	for _, t := range positionTransitions[p.Status] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the position to the target status, or returns an
// *IllegalTransitionError if the edge is not in the transition table. In
// particular PENDING_ENTRY can never jump straight to CLOSED, and CLOSED is
// terminal.
func (p *Position) Transition(to PositionStatus) error {
	if !p.CanTransition(to) {
		return &IllegalTransitionError{Entity: "position", ID: p.ID, From: string(p.Status), To: string(to)}
	}
	p.Status = to
	return nil
}

// Terminal reports whether the order has reached a state the pipeline will
// never advance on its own. A FAILED order is only terminal once the retry
// policy stops authorising attempts, so it is not listed here.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected
}
