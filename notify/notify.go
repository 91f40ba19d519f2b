/*
Package notify turns ledger change events into outgoing customer
notifications.

PURPOSE:
  The ledger never sends mail itself. A Watcher subscribes to the ledger's
  broker, decides which events deserve a notification and hands them to a
  Dispatcher. Delivery is fire-and-forget: a failed dispatch is logged and
  recorded, never surfaced to the ledger operation that caused it.

TEMPLATES:
  balance-created   New balance is ready
  low-balance       Remaining amount crossed the low threshold
  balance-expiring  Expiry date is within the warning window
  time-logged       Work was logged against the balance

DISPATCHERS:
  LogDispatcher    Writes the notification to the structured log
  AMQPDispatcher   Publishes JSON to a RabbitMQ topic exchange
  Recorder         Wraps another dispatcher and stores each delivery
                   in an Outbox (store/sqlite implements it)

SEE ALSO:
  - watcher.go:   Event to notification rules
  - scheduler.go: Periodic expiry sweep
*/
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Template names a notification layout.
type Template string

const (
	TemplateBalanceCreated  Template = "balance-created"
	TemplateLowBalance      Template = "low-balance"
	TemplateBalanceExpiring Template = "balance-expiring"
	TemplateTimeLogged      Template = "time-logged"
)

var subjects = map[Template]string{
	TemplateBalanceCreated:  "Your new prepaid balance is ready",
	TemplateLowBalance:      "Your prepaid balance is running low",
	TemplateBalanceExpiring: "Your prepaid balance expires soon",
	TemplateTimeLogged:      "Time logged against your prepaid balance",
}

// Subject returns the default subject line for t.
func Subject(t Template) string {
	if s, ok := subjects[t]; ok {
		return s
	}
	return "Prepaid balance update"
}

// Notification is one message for one recipient.
type Notification struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Template  Template          `json:"template"`
	Subject   string            `json:"subject"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"createdAt"`
}

// New fills id, subject and timestamp.
func New(recipient string, t Template, data map[string]string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Template:  t,
		Subject:   Subject(t),
		Data:      data,
		CreatedAt: now.UTC(),
	}
}

// Dispatcher delivers a notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }

// =============================================================================
// LOG DISPATCHER
// =============================================================================

// LogDispatcher writes notifications to the log. It is the default when no
// broker is configured.
type LogDispatcher struct {
	Log zerolog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.Log.Info().
		Str("notification_id", n.ID).
		Str("recipient", n.Recipient).
		Str("template", string(n.Template)).
		Str("subject", n.Subject).
		Interface("data", n.Data).
		Msg("notification dispatched")
	return nil
}

// =============================================================================
// DELIVERY LOG
// =============================================================================

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is a notification plus its dispatch outcome.
type Delivery struct {
	Notification
	Status DeliveryStatus
	Error  string
}

// Outbox stores deliveries.
type Outbox interface {
	SaveDelivery(ctx context.Context, d Delivery) error
	ListDeliveries(ctx context.Context, recipient string, limit int) ([]Delivery, error)
}

// Recorder dispatches through Next and saves the outcome in Outbox.
type Recorder struct {
	Next   Dispatcher
	Outbox Outbox
}

func (r Recorder) Dispatch(ctx context.Context, n Notification) error {
	err := r.Next.Dispatch(ctx, n)
	d := Delivery{Notification: n, Status: DeliverySent}
	if err != nil {
		d.Status = DeliveryFailed
		d.Error = err.Error()
	}
	if saveErr := r.Outbox.SaveDelivery(ctx, d); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}
