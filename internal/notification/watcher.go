package notification

import (
	"context"
	"fmt"
	"log"

	"oracle-pricemodel/internal/model"
)

// StatusWatcher raises an alert whenever a symbol's quotes switch between
// trading and unknown. The first quote of a symbol only alerts if it is unknown.
type StatusWatcher struct {
	n    Notifier
	last map[string]model.Status
}

// NewStatusWatcher creates a watcher sending through n.
func NewStatusWatcher(n Notifier) *StatusWatcher {
	return &StatusWatcher{n: n, last: make(map[string]model.Status)}
}

// Observe checks q against the previous status of its symbol and returns the
// alert it sent, if any.
func (w *StatusWatcher) Observe(ctx context.Context, q model.Quote) (Alert, bool) {
	prev, seen := w.last[q.Symbol]
	w.last[q.Symbol] = q.Status
	if seen && prev == q.Status {
		return Alert{}, false
	}

	var a Alert
	switch {
	case q.Status == model.StatusUnknown:
		a = Alert{
			Level:   AlertWarning,
			Title:   "price unavailable",
			Message: fmt.Sprintf("no fresh trade for %s at %s", q.Symbol, q.TS.Format("2006-01-02T15:04:05.000Z07:00")),
		}
	case seen:
		a = Alert{
			Level:   AlertInfo,
			Title:   "price recovered",
			Message: fmt.Sprintf("%s trading at %d ± %.6g", q.Symbol, q.Price, q.Confidence),
		}
	default:
		return Alert{}, false
	}
	a.Symbol, a.TS = q.Symbol, q.TS

	if err := w.n.Send(ctx, a); err != nil {
		log.Printf("[notify] alert delivery failed: %v", err)
	}
	return a, true
}

// Run observes quotes until ctx is cancelled or quotes is closed.
func (w *StatusWatcher) Run(ctx context.Context, quotes <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			w.Observe(ctx, q)
		}
	}
}
