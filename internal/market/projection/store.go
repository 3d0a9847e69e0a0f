// Package projection maintains the read-side order views built from update
// events. Views are eventually consistent with command acknowledgment: a
// caller that just received OrderAccepted may not see the view yet and must
// poll with a bounded retry (see Store.Wait).
package projection

import (
	"context"
	"sync"
	"time"

	"github.com/finsim/marketd/pkg/models"
)

// Store holds materialized order views keyed by order id. It is safe for
// concurrent use: the projection workers mutate views while readers take
// snapshots.
type Store struct {
	views sync.Map // int64 -> *viewState
}

type viewState struct {
	mu   sync.RWMutex
	view models.OrderView
}

// NewStore creates an empty projection store
func NewStore() *Store {
	return &Store{}
}

// Get returns a snapshot of the order's view. The trades slice is copied so
// callers can iterate while the projection keeps appending.
func (s *Store) Get(orderID int64) (models.OrderView, bool) {
	v, ok := s.views.Load(orderID)
	if !ok {
		return models.OrderView{}, false
	}
	st := v.(*viewState)
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := st.view
	snap.Trades = append([]models.TradeRecord(nil), st.view.Trades...)
	return snap, true
}

// Wait polls for the order's view at most attempts times with a fixed delay
// between reads, giving up with an empty result once attempts are exhausted.
// This bounded retry is the documented contract for reading across the
// eventual consistency window; the store itself cannot distinguish "not yet
// applied" from "never existed".
func (s *Store) Wait(ctx context.Context, orderID int64, attempts int, delay time.Duration) (models.OrderView, bool) {
	for i := 0; i < attempts; i++ {
		if view, ok := s.Get(orderID); ok {
			return view, true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return models.OrderView{}, false
		case <-time.After(delay):
		}
	}
	return models.OrderView{}, false
}

// createIfAbsent stores the view unless one already exists for the order id.
// It reports whether the view was stored.
func (s *Store) createIfAbsent(view models.OrderView) bool {
	_, loaded := s.views.LoadOrStore(view.OrderID, &viewState{view: view})
	return !loaded
}

// update applies fn to the order's view if it exists
func (s *Store) update(orderID int64, fn func(*models.OrderView)) {
	v, ok := s.views.Load(orderID)
	if !ok {
		return
	}
	st := v.(*viewState)
	st.mu.Lock()
	fn(&st.view)
	st.mu.Unlock()
}
