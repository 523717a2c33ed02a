package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// LogNotifier пишет уведомления в лог. Используется, когда брокер не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier на базе logger.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

// Notify логирует уведомление.
func (n *LogNotifier) Notify(_ context.Context, notification domain.Notification) error {
	n.logger.WithFields(log.Fields{
		"notification_id": notification.ID,
		"owner_id":        notification.Owner.ID,
		"owner_email":     notification.Owner.Email,
		"order_id":        notification.Summary.OrderID,
		"order_number":    notification.Summary.Number,
		"amount":          notification.Summary.Amount.String(),
		"currency":        notification.Summary.Currency,
	}).Info("order completed notification")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
