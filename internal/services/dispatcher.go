package services

import (
	"encoding/json"
	"sync"

	"bidsession/internal/domain"
	"bidsession/pkg/logger"

	"github.com/google/uuid"
)

// Handler receives a decoded push event after the store has reconciled it.
type Handler func(event string, payload *domain.EventPayload)

// Subscription identifies one registration; Off removes exactly the
// registration it was returned for, never every handler on the event.
type Subscription string

// Dispatcher fans pushed events out to any number of independent
// subscribers and applies the delivery rules: isOk=false is an error
// targeted at a single user, isOk=true is a state update for everyone.
type Dispatcher struct {
	store    *BidStore
	notifier domain.Notifier
	log      logger.Logger

	mutex    sync.RWMutex
	handlers map[string]map[Subscription]Handler
	events   map[Subscription]string
}

func NewDispatcher(store *BidStore, notifier domain.Notifier, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		log:      log,
		handlers: make(map[string]map[Subscription]Handler),
		events:   make(map[Subscription]string),
	}
}

// On registers a handler for a named event. Safe to call at any time,
// including from inside a handler and before the first connect.
func (d *Dispatcher) On(event string, handler Handler) Subscription {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	sub := Subscription(uuid.NewString())
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[Subscription]Handler)
	}
	d.handlers[event][sub] = handler
	d.events[sub] = event
	return sub
}

// Off removes a single registration.
func (d *Dispatcher) Off(sub Subscription) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	event, exists := d.events[sub]
	if !exists {
		return
	}
	delete(d.events, sub)
	delete(d.handlers[event], sub)
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// HandleMessage is the connection's message sink. Frames arrive in
// order from the single read pump.
func (d *Dispatcher) HandleMessage(event string, data json.RawMessage) {
	switch event {
	case domain.EventAuctionOpened, domain.EventBidPlaced,
		domain.EventAuctionStatusChanged, domain.EventNotifyBidders,
		domain.EventColorChanged:
	default:
		d.log.Debug("Ignoring unknown event", "event", event)
		return
	}

	var payload domain.EventPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			d.log.Error("Failed to decode event payload", "event", event, "error", err)
			return
		}
	}

	if !payload.IsOk {
		d.surfaceError(event, &payload)
		return
	}

	d.store.ApplyPushEvent(event, &payload)
	d.surfaceSuccess(event, &payload)
	d.fanOut(event, &payload)
}

// surfaceError shows a server rejection only to the user it targets;
// everyone else drops it silently.
func (d *Dispatcher) surfaceError(event string, payload *domain.EventPayload) {
	target := payload.TargetUser()
	if target == "" || target != d.store.UserID() {
		d.log.Debug("Dropping error event for another user",
			"event", event, "target", target)
		return
	}
	if payload.Message != "" {
		d.notifier.Error(payload.Message)
	}
}

func (d *Dispatcher) surfaceSuccess(event string, payload *domain.EventPayload) {
	message := payload.Message

	switch event {
	case domain.EventBidPlaced:
		// The last previous bidder is the one who just got outbid.
		if payload.OutBidMessage != "" && len(payload.PreviousBidders) > 0 {
			last := payload.PreviousBidders[len(payload.PreviousBidders)-1]
			if last == d.store.UserID() && last != payload.ID {
				d.notifier.Error(payload.OutBidMessage)
			}
		}
	case domain.EventAuctionStatusChanged:
		if payload.WinnerMessage != "" && payload.UserID == d.store.UserID() {
			message = payload.WinnerMessage
		}
	}

	if message != "" {
		d.notifier.Success(message)
		d.notifier.BidSound()
	}
}

// fanOut invokes a snapshot of the handler list so On/Off calls made by
// a handler take effect next dispatch, not this one.
func (d *Dispatcher) fanOut(event string, payload *domain.EventPayload) {
	d.mutex.RLock()
	snapshot := make([]Handler, 0, len(d.handlers[event]))
	for _, handler := range d.handlers[event] {
		snapshot = append(snapshot, handler)
	}
	d.mutex.RUnlock()

	for _, handler := range snapshot {
		handler(event, payload)
	}
}
