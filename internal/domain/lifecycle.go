package domain

import "time"

// transitionRule описывает допустимое ребро графа статусов.
type transitionRule struct {
	seller bool
	buyer  bool
	// releaseStock — переход возвращает зарезервированный товар на склад.
	releaseStock bool
}

// transitionTable — единственный источник правды о переходах статусов заказа.
var transitionTable = map[OrderStatus]map[OrderStatus]transitionRule{
	OrderStatusPending: {
		OrderStatusConfirmed: {seller: true},
		OrderStatusCancelled: {seller: true, buyer: true, releaseStock: true},
	},
	OrderStatusConfirmed: {
		OrderStatusShipped:   {seller: true},
		OrderStatusCancelled: {seller: true, releaseStock: true},
	},
	OrderStatusShipped: {
		OrderStatusDelivered: {seller: true},
	},
}

// TransitionEffect — побочные эффекты, которые вызывающий обязан выполнить
// после успешного сохранения перехода.
type TransitionEffect struct {
	From         OrderStatus
	To           OrderStatus
	ReleaseStock bool
}

// CanTransition проверяет существование ребра без учёта стороны.
func CanTransition(from, to OrderStatus) bool {
	_, ok := transitionTable[from][to]
	return ok
}

// AllowedTargets возвращает статусы, в которые сторона может перевести заказ из from.
func AllowedTargets(from OrderStatus, party Party) []OrderStatus {
	var result []OrderStatus
	for _, to := range []OrderStatus{OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled} {
		rule, ok := transitionTable[from][to]
		if !ok {
			continue
		}
		if (party == PartySeller && rule.seller) || (party == PartyBuyer && rule.buyer) {
			result = append(result, to)
		}
	}
	return result
}

// Transition применяет переход статуса от имени actor.
// Порядок проверок: принадлежность заказу, существование ребра, право стороны.
// При ошибке заказ не изменяется.
func (o *Order) Transition(actor Actor, to OrderStatus, now time.Time) (TransitionEffect, error) {
	party := o.PartyOf(actor)
	if party == PartyNone {
		return TransitionEffect{}, ErrNotAuthorized
	}

	rule, ok := transitionTable[o.Status][to]
	if !ok {
		return TransitionEffect{}, &TransitionError{From: o.Status, To: to}
	}
	switch party {
	case PartySeller:
		if !rule.seller {
			return TransitionEffect{}, ErrNotAuthorized
		}
	case PartyBuyer:
		if !rule.buyer {
			return TransitionEffect{}, ErrNotAuthorized
		}
	}

	effect := TransitionEffect{From: o.Status, To: to, ReleaseStock: rule.releaseStock}

	o.Status = to
	o.UpdatedAt = now
	switch to {
	case OrderStatusDelivered:
		delivered := now
		o.DeliveredAt = &delivered
	case OrderStatusCancelled:
		if party == PartyBuyer {
			o.PaymentStatus = PaymentStatusRefunded
		}
	}

	return effect, nil
}
