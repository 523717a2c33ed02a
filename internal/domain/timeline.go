package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelinePaymentSucceeded = "payment.succeeded"
	TimelinePaymentFailed    = "payment.failed"
	TimelineOrderReaped      = "order.reaped"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
