// Package notify pushes operator alerts for the resolution pipeline:
// critical herding rejections, finalized markets, dispute outcomes, and
// manipulation flags. Alerts fan out to all registered senders (Telegram,
// Discord) and can be filtered by event name so operators receive only the
// alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Alert event names, used both on the wire and in the operator's event
// filter configuration. Names shared with the signal bus reuse its
// constants so a filter entry matches both surfaces.
const (
	EventHerdingCritical     = "herding.critical"
	EventResolutionFinalized = domain.EventResolutionFinalized
	EventDisputeAccepted     = domain.EventDisputeAccepted
	EventDisputeFlagged      = domain.EventDisputeFlagged
)

// Notifier formats domain alerts and dispatches them to one or more Senders.
// It maintains a set of allowed event names; alerts whose event is not in
// the set are dropped. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event names
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders,
// forwarding only events named in the events slice. An empty slice allows
// all events.
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

// HerdingCritical alerts that a vote was rejected at the intake gate with a
// critical herding score.
func (n *Notifier) HerdingCritical(ctx context.Context, marketID domain.MarketID, voter domain.PrincipalID, score uint8) error {
	return n.notify(ctx, EventHerdingCritical, "Critical herding risk",
		fmt.Sprintf("Vote from %s on market %d rejected with herding score %d.", voter.Hex(), marketID, score))
}

// ResolutionFinalized alerts that a market's resolution survived its dispute
// window and is now immutable.
func (n *Notifier) ResolutionFinalized(ctx context.Context, marketID domain.MarketID, version int) error {
	return n.notify(ctx, EventResolutionFinalized, "Market finalized",
		fmt.Sprintf("Market %d finalized at resolution version %d.", marketID, version))
}

// DisputeAccepted alerts that a challenge review accepted the dispute and
// the market was re-resolved.
func (n *Notifier) DisputeAccepted(ctx context.Context, marketID domain.MarketID, newVersion int) error {
	return n.notify(ctx, EventDisputeAccepted, "Dispute accepted",
		fmt.Sprintf("Market %d re-resolved at version %d after an accepted challenge.", marketID, newVersion))
}

// DisputeFlagged forwards a manipulation flag raised by the post-hoc tally
// scan, as consumed from the dispute channel.
func (n *Notifier) DisputeFlagged(ctx context.Context, ev domain.Event) error {
	return n.notify(ctx, EventDisputeFlagged, "Resolution flagged for review",
		fmt.Sprintf("Market %d resolution v%d scored %d on the manipulation scan.", ev.MarketID, ev.Version, ev.Score))
}

// notify applies the event filter before dispatching.
func (n *Notifier) notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event name.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
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
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
