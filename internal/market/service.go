// Package market exposes the core trading engine to transport layers: it
// routes commands to the owning aggregate and serves projection reads.
package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/market/book"
	"github.com/finsim/marketd/internal/market/projection"
	"github.com/finsim/marketd/internal/market/registry"
	"github.com/finsim/marketd/pkg/models"
)

// RejectedError is returned by PlaceOrder when validation fails. The
// OrderRejected sourcing event is carried for callers that need the cause.
type RejectedError struct {
	Event models.OrderRejected
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Event.Cause)
}

// Service is the command router and read facade over the engine
type Service struct {
	registry *registry.Registry
	store    *projection.Store
	logger   *zap.Logger
}

// NewService creates the engine facade
func NewService(reg *registry.Registry, store *projection.Store, logger *zap.Logger) *Service {
	return &Service{
		registry: reg,
		store:    store,
		logger:   logger.Named("market"),
	}
}

// PlaceOrder dispatches the command to the instrument's aggregate and
// returns its acceptance. The returned event precedes projection
// visibility; use WaitOrder to read across the consistency window.
func (s *Service) PlaceOrder(ctx context.Context, cmd models.PlaceOrder) (models.OrderAccepted, error) {
	b := s.registry.GetOrCreate(cmd.InstrumentID)
	ev, err := b.Handle(ctx, cmd)
	if err != nil {
		return models.OrderAccepted{}, err
	}
	switch e := ev.(type) {
	case models.OrderAccepted:
		return e, nil
	case models.OrderRejected:
		return models.OrderAccepted{}, &RejectedError{Event: e}
	default:
		return models.OrderAccepted{}, fmt.Errorf("unexpected event %T from book %s", ev, cmd.InstrumentID)
	}
}

// CancelOrder dispatches a cancellation to the instrument's aggregate.
// A missing target yields book.ErrOrderNotFound and no event.
func (s *Service) CancelOrder(ctx context.Context, cmd models.CancelOrder) (models.OrderCanceled, error) {
	b := s.registry.GetOrCreate(cmd.InstrumentID)
	ev, err := b.Handle(ctx, cmd)
	if err != nil {
		return models.OrderCanceled{}, err
	}
	canceled, ok := ev.(models.OrderCanceled)
	if !ok {
		return models.OrderCanceled{}, fmt.Errorf("unexpected event %T from book %s", ev, cmd.InstrumentID)
	}
	return canceled, nil
}

// GetOrder is a pure projection read; it does not wait out the eventual
// consistency window.
func (s *Service) GetOrder(orderID int64) (models.OrderView, bool) {
	return s.store.Get(orderID)
}

// WaitOrder polls the projection with a bounded number of attempts and a
// fixed delay, returning an empty result once exhausted.
func (s *Service) WaitOrder(ctx context.Context, orderID int64, attempts int, delay time.Duration) (models.OrderView, bool) {
	return s.store.Wait(ctx, orderID, attempts, delay)
}

// Subscribe attaches an audit/stream consumer to the instrument's event
// feed, creating the aggregate if needed. Delivery starts at the moment of
// subscription; no history is replayed.
func (s *Service) Subscribe(instrument string) *book.Subscription {
	return s.registry.GetOrCreate(instrument).Subscribe()
}
