package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/market"
	"github.com/finsim/marketd/internal/market/book"
	"github.com/finsim/marketd/pkg/models"
)

// PlaceOrderRequest represents an order placement request
type PlaceOrderRequest struct {
	Instrument string          `json:"instrument" binding:"required"`
	Side       models.Side     `json:"side" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Price      decimal.Decimal `json:"price" binding:"required"`
}

// OrderStatusResponse is the materialized order view returned to clients
type OrderStatusResponse struct {
	ID            int64           `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Instrument    string          `json:"instrument"`
	Side          models.Side     `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Trades        []TradeResponse `json:"trades"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
}

// TradeResponse is one execution on an order
type TradeResponse struct {
	OrderID int64           `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`
}

// ErrorResponse carries a client-visible error
type ErrorResponse struct {
	Error string `json:"error"`
}

// placeOrder submits a placement and answers with the materialized view,
// polling the projection with the configured bounded retry. When the view is
// not yet visible the acceptance is acknowledged with 202.
func (s *Server) placeOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	accepted, err := s.svc.PlaceOrder(c.Request.Context(), models.PlaceOrder{
		InstrumentID: req.Instrument,
		ID:           uuid.New(),
		Side:         req.Side,
		Amount:       req.Amount,
		Price:        req.Price,
	})
	if err != nil {
		var rejected *market.RejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: rejected.Event.Cause})
			return
		}
		s.logger.Error("place order failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	view, ok := s.svc.WaitOrder(c.Request.Context(), accepted.OrderID,
		s.projection.RetryAttempts, s.projection.RetryDelay)
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"id": accepted.OrderID})
		return
	}
	c.JSON(http.StatusOK, toOrderStatus(view))
}

// getOrder reads the order projection without retrying
func (s *Server) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}

	view, ok := s.svc.GetOrder(orderID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	}
	c.JSON(http.StatusOK, toOrderStatus(view))
}

// cancelOrder cancels the whole remaining amount of a resting order. Orders
// with nothing pending are not cancelable.
func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}

	view, ok := s.svc.GetOrder(orderID)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "can't cancel non-existing order"})
		return
	}
	if !view.PendingAmount.IsPositive() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "order already executed"})
		return
	}

	_, err = s.svc.CancelOrder(c.Request.Context(), models.CancelOrder{
		InstrumentID: view.InstrumentID,
		ID:           uuid.New(),
		OrderID:      orderID,
		CancelAll:    true,
		NewAmount:    decimal.Zero,
	})
	if err != nil {
		if errors.Is(err, book.ErrOrderNotFound) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("cancel order failed", zap.Int64("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	c.String(http.StatusAccepted, "OK")
}

// streamBook streams the instrument's live event feed as server-sent events.
// Clients receive events emitted after they connect; no history is replayed.
func (s *Server) streamBook(c *gin.Context) {
	sub := s.svc.Subscribe(c.Param("instrument"))
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(eventName(ev), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func eventName(ev models.Event) string {
	switch ev.(type) {
	case models.OrderAccepted:
		return "order_accepted"
	case models.OrderRejected:
		return "order_rejected"
	case models.OrderPlaced:
		return "order_placed"
	case models.OrderMatched:
		return "order_matched"
	case models.OrderCanceled:
		return "order_canceled"
	default:
		return "event"
	}
}

func toOrderStatus(view models.OrderView) OrderStatusResponse {
	trades := make([]TradeResponse, 0, len(view.Trades))
	for _, t := range view.Trades {
		trades = append(trades, TradeResponse{OrderID: t.OrderID, Amount: t.Amount, Price: t.Price})
	}
	return OrderStatusResponse{
		ID:            view.OrderID,
		Timestamp:     view.EntryTimestamp,
		Instrument:    view.InstrumentID,
		Side:          view.Side,
		Amount:        view.Amount,
		Price:         view.Price,
		Trades:        trades,
		PendingAmount: view.PendingAmount,
	}
}
