package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bidsession/internal/domain"
	"bidsession/internal/infrastructure/storage"
	"bidsession/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// navigationSettleDelay is how long the store waits after an auction
// closes before instructing navigation, so the closing toast lands
// before the screen changes.
const navigationSettleDelay = 300 * time.Millisecond

// pendingBidTTL bounds how long an unresolved PendingBid blocks
// resubmission. A bid emitted just as the socket dropped never gets a
// bidPlaced answer; after this long it no longer counts as in flight.
const pendingBidTTL = 15 * time.Second

// ChangeListener observes snapshot overwrites. The listener gets a copy;
// it never holds a mutable reference into the store.
type ChangeListener func(snapshot domain.BidSnapshot)

// BidStore is the authoritative client-side cache of the currently
// viewed car's bidding state. Both REST snapshots and pushed events
// write through it; every overwrite is persisted so a remount or app
// restart can paint the last known value before the socket is back.
// Last-write-wins: the server is the source of truth for ordering.
type BidStore struct {
	persist   domain.SnapshotStore
	navigator domain.Navigator
	clock     clockwork.Clock
	log       logger.Logger

	mutex     sync.RWMutex
	snapshot  *domain.BidSnapshot
	color     *domain.PriceColorSnapshot
	pending   *domain.PendingBid
	userID    string
	listeners map[string]ChangeListener
}

func NewBidStore(persist domain.SnapshotStore, navigator domain.Navigator,
	clock clockwork.Clock, log logger.Logger) *BidStore {
	return &BidStore{
		persist:   persist,
		navigator: navigator,
		clock:     clock,
		log:       log,
		listeners: make(map[string]ChangeListener),
	}
}

// Hydrate loads any persisted snapshots for carID, best effort. A
// persisted snapshot for a different car is stale (only one car is
// viewed live at a time) and is evicted instead of loaded. Also reads
// the cached user id used for event targeting.
func (s *BidStore) Hydrate(ctx context.Context, carID string) {
	if raw, err := s.persist.Get(ctx, storage.KeyUserData); err == nil {
		var user domain.UserData
		if err := json.Unmarshal(raw, &user); err == nil {
			s.mutex.Lock()
			s.userID = user.ID
			s.mutex.Unlock()
		}
	}

	raw, err := s.persist.Get(ctx, storage.KeyBidData)
	switch {
	case err == storage.ErrNotFound:
	case err != nil:
		s.log.Warn("Failed to read cached bid data", "error", err)
	default:
		var snapshot domain.BidSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			s.log.Warn("Corrupt cached bid data, dropping", "error", err)
			s.deleteKey(ctx, storage.KeyBidData)
		} else if snapshot.CarID != carID {
			s.deleteKey(ctx, storage.KeyBidData)
		} else {
			s.mutex.Lock()
			s.snapshot = &snapshot
			s.mutex.Unlock()
		}
	}

	raw, err = s.persist.Get(ctx, storage.KeyCarColor)
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("Failed to read cached car color", "error", err)
		}
		return
	}
	var color domain.PriceColorSnapshot
	if err := json.Unmarshal(raw, &color); err != nil || color.CarID != carID {
		s.deleteKey(ctx, storage.KeyCarColor)
		return
	}
	s.mutex.Lock()
	s.color = &color
	s.mutex.Unlock()
}

// ApplyRestSnapshot seeds starting bid and margin from a GET /car/:id
// response and, when the response embeds a current bid, overwrites the
// cached amount.
func (s *BidStore) ApplyRestSnapshot(details *domain.CarDetails) {
	s.mutex.Lock()
	if s.snapshot == nil || s.snapshot.CarID != details.Car.ID {
		s.snapshot = &domain.BidSnapshot{
			CarID:       details.Car.ID,
			AuctionOpen: true,
		}
	}
	s.snapshot.StartingBid = details.Car.StartingBid
	s.snapshot.BidMargin = details.Car.BidMargin
	if details.CurrentBid != nil {
		amount := details.CurrentBid.BidAmount
		s.snapshot.BidAmount = &amount
		if details.CurrentBid.PreviousBidders != nil {
			s.snapshot.PreviousBidders = details.CurrentBid.PreviousBidders
		}
	}
	changed := *s.snapshot
	s.mutex.Unlock()

	s.persistSnapshot(&changed)
	s.notifyListeners(changed)
}

// ApplyPushEvent reconciles one pushed event, in arrival order. Fields
// absent from the payload keep their cached values.
func (s *BidStore) ApplyPushEvent(event string, payload *domain.EventPayload) {
	switch event {
	case domain.EventAuctionOpened, domain.EventBidPlaced, domain.EventNotifyBidders:
		s.mergeBidFields(payload)
	case domain.EventAuctionStatusChanged:
		s.closeAuction(payload)
	case domain.EventColorChanged:
		s.applyColor(payload)
	}
}

func (s *BidStore) mergeBidFields(payload *domain.EventPayload) {
	s.mutex.Lock()
	if payload.CarID != "" && (s.snapshot == nil || s.snapshot.CarID != payload.CarID) {
		s.snapshot = &domain.BidSnapshot{CarID: payload.CarID, AuctionOpen: true}
	}
	if s.snapshot == nil {
		s.mutex.Unlock()
		s.log.Warn("Push event with no car context, dropping")
		return
	}
	if payload.BidAmount != nil {
		amount := *payload.BidAmount
		s.snapshot.BidAmount = &amount
	}
	if payload.CurrentBid != nil {
		amount := *payload.CurrentBid
		s.snapshot.CurrentBid = &amount
	}
	if payload.AuctionStatus != nil {
		s.snapshot.AuctionOpen = *payload.AuctionStatus
	}
	if payload.PreviousBidders != nil {
		s.snapshot.PreviousBidders = payload.PreviousBidders
	}
	s.resolvePendingLocked(s.snapshot.CarID, payload)
	changed := *s.snapshot
	s.mutex.Unlock()

	s.persistSnapshot(&changed)
	s.notifyListeners(changed)
}

// closeAuction records the terminal state, evicts the persisted entry,
// and after a short settle delay hands control to navigation: next car
// if the server named one, otherwise back to the listing.
func (s *BidStore) closeAuction(payload *domain.EventPayload) {
	s.mutex.Lock()
	// A close for a car that is not on screen must not tear down the
	// viewed car's state or move the user anywhere.
	if payload.CarID != "" && s.snapshot != nil && s.snapshot.CarID != payload.CarID {
		s.mutex.Unlock()
		s.log.Debug("Ignoring auction close for another car", "car_id", payload.CarID)
		return
	}
	if s.snapshot != nil {
		s.snapshot.AuctionOpen = false
		if payload.AuctionStatus != nil {
			s.snapshot.AuctionOpen = *payload.AuctionStatus
		}
	}
	s.pending = nil
	changed := s.snapshot
	s.snapshot = nil
	s.color = nil
	s.mutex.Unlock()

	ctx := context.Background()
	s.deleteKey(ctx, storage.KeyBidData)
	s.deleteKey(ctx, storage.KeyCarColor)
	if changed != nil {
		s.notifyListeners(*changed)
	}

	next := payload.NextCar
	s.clock.AfterFunc(navigationSettleDelay, func() {
		if next != nil && next.ID != "" {
			s.navigator.GoToCar(next.ID)
		} else {
			s.navigator.GoToListing()
		}
	})
}

func (s *BidStore) applyColor(payload *domain.EventPayload) {
	if payload.Color != domain.ColorGreen && payload.Color != domain.ColorRed {
		s.log.Warn("Unknown price color, dropping", "color", payload.Color)
		return
	}
	color := domain.PriceColorSnapshot{CarID: payload.CarID, Color: payload.Color}

	s.mutex.Lock()
	s.color = &color
	s.mutex.Unlock()

	raw, err := json.Marshal(&color)
	if err != nil {
		s.log.Error("Failed to encode car color", "error", err)
		return
	}
	if err := s.persist.Set(context.Background(), storage.KeyCarColor, raw); err != nil {
		s.log.Warn("Failed to persist car color", "error", err)
	}
}

// EffectiveBid resolves the displayed amount for carID. Zero when the
// store has no snapshot for that car yet.
func (s *BidStore) EffectiveBid(carID string) float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.snapshot == nil || s.snapshot.CarID != carID {
		return 0
	}
	return s.snapshot.EffectiveAmount()
}

// BidMargin returns the server-supplied increment step for carID.
func (s *BidStore) BidMargin(carID string) float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.snapshot == nil || s.snapshot.CarID != carID {
		return 0
	}
	return s.snapshot.BidMargin
}

// Snapshot returns a copy of the current snapshot, if any.
func (s *BidStore) Snapshot() (domain.BidSnapshot, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.snapshot == nil {
		return domain.BidSnapshot{}, false
	}
	return *s.snapshot, true
}

// Color returns a copy of the current price color snapshot, if any.
func (s *BidStore) Color() (domain.PriceColorSnapshot, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.color == nil {
		return domain.PriceColorSnapshot{}, false
	}
	return *s.color, true
}

// UserID is the locally cached user id, loaded during Hydrate.
func (s *BidStore) UserID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.userID
}

// SetUserID overrides the cached user id, for composition roots that
// source it elsewhere.
func (s *BidStore) SetUserID(userID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.userID = userID
}

// BeginPending records an in-flight bid. Returns false when an
// unresolved pending bid already covers the amount, which blocks
// double-submitting the same or a lower bid in rapid succession.
// A pending bid older than pendingBidTTL is treated as lost.
func (s *BidStore) BeginPending(carID string, amount float64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.pending != nil && s.pending.CarID == carID && s.pending.Amount >= amount &&
		s.clock.Since(s.pending.SubmittedAt) < pendingBidTTL {
		return false
	}
	s.pending = &domain.PendingBid{
		CarID:       carID,
		Amount:      amount,
		SubmittedAt: s.clock.Now(),
	}
	return true
}

// ClearPending drops the in-flight marker, used when an emit fails
// after validation passed.
func (s *BidStore) ClearPending(carID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.pending != nil && s.pending.CarID == carID {
		s.pending = nil
	}
}

// resolvePendingLocked clears the pending bid once a bidPlaced event
// reaches or passes its amount.
func (s *BidStore) resolvePendingLocked(carID string, payload *domain.EventPayload) {
	if s.pending == nil || s.pending.CarID != carID {
		return
	}
	if payload.BidAmount != nil && *payload.BidAmount >= s.pending.Amount {
		s.pending = nil
	}
}

// Subscribe registers a re-render trigger; the returned id unsubscribes
// exactly this listener.
func (s *BidStore) Subscribe(listener ChangeListener) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := uuid.NewString()
	s.listeners[id] = listener
	return id
}

func (s *BidStore) Unsubscribe(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.listeners, id)
}

func (s *BidStore) notifyListeners(snapshot domain.BidSnapshot) {
	s.mutex.RLock()
	listeners := make([]ChangeListener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mutex.RUnlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

func (s *BidStore) persistSnapshot(snapshot *domain.BidSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error("Failed to encode bid snapshot", "error", err)
		return
	}
	if err := s.persist.Set(context.Background(), storage.KeyBidData, raw); err != nil {
		s.log.Warn("Failed to persist bid snapshot", "error", err)
	}
}

func (s *BidStore) deleteKey(ctx context.Context, key string) {
	if err := s.persist.Delete(ctx, key); err != nil && err != storage.ErrNotFound {
		s.log.Warn("Failed to evict cached entry", "key", key, "error", err)
	}
}
