// Package notification delivers signal alerts to external channels
// (log, Telegram, webhooks) and tracks the live status of every series.
package notification

import (
	"context"
	"fmt"
	"log"
	"strings"

	"signal-engine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Event   *model.SignalEvent `json:"event,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s", alert.Level, alert.Title)
	return nil
}

// FormatAlert renders a signal event as an alert.
// The title reads like "AAPL 5m - OPEN LONG at $187.2500".
func FormatAlert(ev model.SignalEvent) Alert {
	side := ev.Key.Direction.Label()
	action := fmt.Sprintf("%s %s", ev.Action, side)
	price := "$" + ev.Price.StringFixed(4)

	title := fmt.Sprintf("%s %s - %s at %s", ev.Key.Symbol, ev.Key.Timeframe, action, price)
	if ev.Action == model.ActionClose && ev.PnL.IsSome() {
		title += " (" + signedDollars(ev.PnL) + ")"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", ev.Key.Symbol)
	fmt.Fprintf(&b, "Timeframe: %s\n", ev.Key.Timeframe)
	fmt.Fprintf(&b, "Position: %s (%s data)\n", side, strings.ToLower(string(ev.Key.Direction)))
	fmt.Fprintf(&b, "Action: %s\n", action)
	fmt.Fprintf(&b, "Bar: %s\n", ev.Time.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Price: %s\n", price)
	fmt.Fprintf(&b, "Conditions Met: %d/3\n", ev.ConditionsMet)

	if ev.Action == model.ActionClose {
		fmt.Fprintf(&b, "\nP&L (%s):\n", side)
		fmt.Fprintf(&b, "Opening Price: $%s\n", fixed(ev.OpenPrice))
		fmt.Fprintf(&b, "Closing Price: %s\n", price)
		fmt.Fprintf(&b, "Profit/Loss: %s (%s%%)\n", signedDollars(ev.PnL), fixed2(ev.PnLPct))
		fmt.Fprintf(&b, "Total P&L (%s %s): %s\n", ev.Key.Timeframe, side, signedDollars(model.Defined(ev.TotalPnL)))
	}

	return Alert{
		Level:   AlertInfo,
		Title:   title,
		Message: b.String(),
		Event:   &ev,
	}
}

func fixed(v model.Value) string {
	if v.IsNone() {
		return "n/a"
	}
	return v.Unwrap().StringFixed(4)
}

func fixed2(v model.Value) string {
	if v.IsNone() {
		return "n/a"
	}
	d := v.Unwrap().Round(2)
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

func signedDollars(v model.Value) string {
	if v.IsNone() {
		return "n/a"
	}
	d := v.Unwrap()
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(4)
	}
	return "+$" + d.StringFixed(4)
}
