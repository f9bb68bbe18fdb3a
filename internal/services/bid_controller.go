package services

import (
	"errors"
	"fmt"
	"math"

	"bidsession/internal/domain"
	"bidsession/pkg/logger"
)

// Validation failures, all raised before any network action.
var (
	ErrNotConnected  = errors.New("bid: socket not connected")
	ErrMissingToken  = errors.New("bid: auth token missing")
	ErrInvalidAmount = errors.New("bid: amount is not a finite number")
	ErrBidTooLow     = errors.New("bid: amount must exceed the current bid")
	ErrBidPending    = errors.New("bid: a bid for this amount is already in flight")
)

// BidController validates and emits outgoing bids. Pessimistic update:
// it never touches the snapshot itself; the display changes only when
// the server's bidPlaced event round-trips through the store.
type BidController struct {
	emitter  domain.Emitter
	store    *BidStore
	notifier domain.Notifier
	log      logger.Logger
}

func NewBidController(emitter domain.Emitter, store *BidStore,
	notifier domain.Notifier, log logger.Logger) *BidController {
	return &BidController{
		emitter:  emitter,
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// PlaceBid checks preconditions, then emits placeBid. Any violation is
// surfaced as a toast and returns a typed error without network action.
func (c *BidController) PlaceBid(carID string, amount float64, token string) error {
	if !c.emitter.IsConnected() {
		c.notifier.Error("Not connected to the auction. Please try again.")
		return ErrNotConnected
	}
	if token == "" {
		c.notifier.Error("You must be signed in to place a bid.")
		return ErrMissingToken
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		c.notifier.Error("Enter a valid bid amount.")
		return ErrInvalidAmount
	}

	effective := c.store.EffectiveBid(carID)
	if amount <= effective {
		c.notifier.Error(fmt.Sprintf("Your bid must be higher than %.0f.", effective))
		return ErrBidTooLow
	}

	if !c.store.BeginPending(carID, amount) {
		c.log.Warn("Duplicate bid submission blocked", "car_id", carID, "amount", amount)
		return ErrBidPending
	}

	if err := c.emitter.Emit(domain.EmitPlaceBid, domain.PlaceBidRequest{
		CarID:     carID,
		Token:     token,
		BidAmount: amount,
	}); err != nil {
		c.store.ClearPending(carID)
		return err
	}

	c.log.Info("Bid emitted", "car_id", carID, "amount", amount)
	return nil
}

// Increment moves the candidate input up one bidMargin step. Adjusts
// the pending input only, never submits.
func (c *BidController) Increment(carID string, candidate float64) float64 {
	return candidate + c.store.BidMargin(carID)
}

// Decrement moves the candidate down one step, floored at the current
// effective bid.
func (c *BidController) Decrement(carID string, candidate float64) float64 {
	next := candidate - c.store.BidMargin(carID)
	if effective := c.store.EffectiveBid(carID); next < effective {
		return effective
	}
	return next
}
