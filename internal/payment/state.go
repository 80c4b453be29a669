package payment

import "academy/internal/model"

// transitions lists the allowed order status changes. Terminal failure
// states may still become persisted: a capture the gateway later confirms
// means money was taken and must reach the ledger.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderCreated: {
		model.OrderAwaitingClient, model.OrderPersisted, model.OrderVerificationFailed, model.OrderAbandoned,
	},
	model.OrderAwaitingClient: {
		model.OrderPersisted, model.OrderVerificationFailed, model.OrderAbandoned,
	},
	model.OrderVerificationFailed: {model.OrderPersisted},
	model.OrderAbandoned:          {model.OrderPersisted},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Open reports whether the order still accepts a checkout result.
func Open(s model.OrderStatus) bool {
	return s == model.OrderCreated || s == model.OrderAwaitingClient
}
