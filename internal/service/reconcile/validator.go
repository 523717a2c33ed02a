package reconcile

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/metrics"
)

// Validator сверяет утверждение шлюза с заказом, на который оно ссылается.
// Проверки выполняются по порядку, первая неудачная определяет причину отказа.
type Validator struct {
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
}

// NewValidator создаёт валидатор. metrics может быть nil.
func NewValidator(logger *log.Entry, m *metrics.ReconcileMetrics) *Validator {
	if logger == nil {
		logger = log.WithField("component", "payment-validator")
	}
	return &Validator{logger: logger, metrics: m}
}

// Validate проверяет событие об успешной оплате: все проверки, включая точное совпадение суммы.
// Возвращает nil или *domain.RejectionError.
func (v *Validator) Validate(expected domain.PaymentEventKind, event domain.PaymentEvent, order *domain.Order) error {
	return v.validate(expected, event, order, true)
}

// ValidateFailure проверяет событие об отказе. Сумма не сверяется: списания не было.
func (v *Validator) ValidateFailure(event domain.PaymentEvent, order *domain.Order) error {
	return v.validate(domain.PaymentEventFailed, event, order, false)
}

func (v *Validator) validate(expected domain.PaymentEventKind, event domain.PaymentEvent, order *domain.Order, checkAmount bool) error {
	rej := check(expected, event, order, checkAmount)
	if rej == nil {
		return nil
	}

	fields := log.Fields{
		"check":          string(rej.Reason),
		"expected":       rej.Expected,
		"received":       rej.Received,
		"order_id":       event.OrderID,
		"transaction_id": event.TransactionID,
		"event_kind":     string(event.Kind),
	}
	if event.EventID != "" {
		fields["event_id"] = event.EventID
	}
	if rej.IsDuplicate() {
		v.logger.WithFields(fields).Info("payment event for finalized order ignored")
	} else {
		v.logger.WithFields(fields).Warn("payment event rejected")
	}
	v.metrics.RecordRejection(string(rej.Reason))

	return rej
}

func check(expected domain.PaymentEventKind, event domain.PaymentEvent, order *domain.Order, checkAmount bool) *domain.RejectionError {
	if errs := event.Validate(); len(errs) > 0 {
		return domain.Reject(domain.RejectMalformedEvent, "", errs[0].Error())
	}

	// 1. Заказ существует.
	if order == nil {
		return domain.Reject(domain.RejectOrderNotFound, event.OrderID, "")
	}

	// 2. Заказ ещё не финализирован. Повторная доставка отсекается здесь.
	if order.Status != domain.OrderStatusPending {
		return domain.Reject(domain.RejectAlreadyProcessed, string(domain.OrderStatusPending), string(order.Status))
	}

	// 3. Сумма совпадает точно, в минимальных единицах валюты заказа.
	if checkAmount {
		want, err := order.AmountMinor()
		if err != nil {
			return domain.Reject(domain.RejectAmountNotRepresentable, order.Amount.String(), strconv.FormatInt(event.AmountMinor, 10))
		}
		if event.AmountMinor != want {
			return domain.Reject(domain.RejectAmountMismatch, strconv.FormatInt(want, 10), strconv.FormatInt(event.AmountMinor, 10))
		}
	}
	if event.Currency != "" && !strings.EqualFold(strings.TrimSpace(event.Currency), order.Currency) {
		return domain.Reject(domain.RejectCurrencyMismatch, order.Currency, event.Currency)
	}

	// 4. Идентификатор заказа в метаданных шлюза совпадает с заказом.
	if domain.NormalizeID(event.Metadata.OrderID) != domain.NormalizeID(order.ID) {
		return domain.Reject(domain.RejectOrderMismatch, order.ID, event.Metadata.OrderID)
	}

	// 5. Заказ не привязан к другой транзакции.
	if order.HasExternalReference() && order.ExternalReference != event.TransactionID {
		return domain.Reject(domain.RejectReferenceConflict, order.ExternalReference, event.TransactionID)
	}

	// 6. Тип события совпадает с ожидаемым исходом.
	if event.Kind != expected {
		return domain.Reject(domain.RejectKindMismatch, string(expected), string(event.Kind))
	}

	return nil
}
