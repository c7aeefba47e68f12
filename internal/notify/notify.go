package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Event is a triggered-alert notification payload.
type Event struct {
	AlertID       string          `json:"alert_id"`
	Symbol        string          `json:"symbol"`
	Condition     string          `json:"condition"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	ObservedPrice decimal.Decimal `json:"observed_price"`
	Message       string          `json:"message"`
	TriggeredAt   time.Time       `json:"triggered_at"`
}

// Channel delivers an event to a specific user. Delivery is at-least-once,
// best-effort; no confirmation is required.
type Channel interface {
	Publish(userID string, event Event) error
}

// Dispatcher formats triggered alerts and emits them on the channel. Failures
// are logged, never retried synchronously: the alert's deactivation has
// already been committed by the time this runs, so the trigger stays
// at-most-once whatever happens here.
type Dispatcher struct {
	channel Channel
}

func NewDispatcher(channel Channel) *Dispatcher {
	return &Dispatcher{channel: channel}
}

// buildMessage is deterministic from the event fields so a notification can be
// reproduced from the stored alert at any time.
func buildMessage(symbol, condition string, target, observed decimal.Decimal) string {
	return fmt.Sprintf("%s price is now %s your target of %s. Current price: %s",
		symbol, strings.ToLower(condition), target.String(), observed.String())
}

func (d *Dispatcher) Notify(userID string, event Event) {
	if event.Message == "" {
		event.Message = buildMessage(event.Symbol, event.Condition, event.TargetPrice, event.ObservedPrice)
	}
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now()
	}

	if err := d.channel.Publish(userID, event); err != nil {
		log.Error().
			Str("component", "notification_dispatcher").
			Str("user_id", userID).
			Str("alert_id", event.AlertID).
			Err(err).
			Msg("notification delivery failed")
		return
	}

	log.Info().
		Str("component", "notification_dispatcher").
		Str("user_id", userID).
		Str("alert_id", event.AlertID).
		Str("symbol", event.Symbol).
		Msg("notification dispatched")
}

// LogChannel writes notifications to the application log. The default channel
// in environments without a real delivery backend.
type LogChannel struct{}

func (LogChannel) Publish(userID string, event Event) error {
	log.Info().
		Str("component", "notification_channel").
		Str("user_id", userID).
		Str("symbol", event.Symbol).
		Str("message", event.Message).
		Msg("price alert")
	return nil
}
