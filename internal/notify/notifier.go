// Package notify provides a multi-channel notification system. Pipeline
// events are dispatched to all registered senders (Telegram, Discord) and
// can be filtered by event type so operators receive only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// Event types emitted by the pipeline.
const (
	EventArbDetected      = "arb_detected"
	EventWhaleDetected    = "whale_detected"
	EventResolutionFailed = "resolution_failed"
	EventSyncFailed       = "sync_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches notifications to one or more Senders, filtered by an
// allowed-event set. It doubles as the sink for the arbitrage, whale, and
// resolution components.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in events are forwarded; an empty list allows
// everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders if the event type passes the
// filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// ArbDetected implements the arbitrage sink.
func (n *Notifier) ArbDetected(ctx context.Context, opp domain.Opportunity) {
	msg := fmt.Sprintf(
		"Buy YES on %s (%s) at %d bps, buy NO on %s (%s) at %d bps.\nCombined cost %d bps, spread %d bps, similarity %.2f.",
		opp.BuyYes.Provider, opp.BuyYes.MarketID, opp.BuyYes.YesPriceBps,
		opp.BuyNo.Provider, opp.BuyNo.MarketID, opp.BuyNo.NoPriceBps,
		opp.CombinedCostBps, opp.SpreadBps, opp.Similarity,
	)
	if err := n.Notify(ctx, EventArbDetected, "Arbitrage opportunity", msg); err != nil {
		n.logger.ErrorContext(ctx, "arb notification failed", slog.String("error", err.Error()))
	}
}

// WhaleDetected implements the whale sink.
func (n *Notifier) WhaleDetected(ctx context.Context, w domain.WhaleTrade) {
	msg := fmt.Sprintf(
		"%s %s %s on %s market %s for $%s.",
		strings.ToUpper(string(w.Side)), w.Shares.StringFixed(0), strings.ToUpper(string(w.Outcome)),
		w.Provider, w.MarketID, w.NotionalUSD.StringFixed(2),
	)
	if err := n.Notify(ctx, EventWhaleDetected, "Whale trade", msg); err != nil {
		n.logger.ErrorContext(ctx, "whale notification failed", slog.String("error", err.Error()))
	}
}

// ResolutionFailed implements the resolution sink. These always bypass the
// event filter: a stuck on-chain resolution needs eyes on it.
func (n *Notifier) ResolutionFailed(ctx context.Context, a domain.ResolutionAction, err error) {
	msg := fmt.Sprintf(
		"Action %s for %s market %s (mirror %s, outcome %s) failed: %v",
		a.ID, a.Provider, a.ExternalMarketID, a.MirrorKey, a.Outcome, err,
	)
	if derr := n.dispatch(ctx, "Resolution FAILED", msg); derr != nil {
		n.logger.ErrorContext(ctx, "resolution notification failed", slog.String("error", derr.Error()))
	}
}

// dispatch sends to every sender, collecting failures so one broken channel
// does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
