package services

import (
	"context"
	"encoding/json"
	"sync"

	"bidsession/internal/domain"
	"bidsession/internal/infrastructure/storage"
)

// memStore is an in-memory SnapshotStore for tests.
type memStore struct {
	mutex sync.Mutex
	data  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	value, exists := m.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return value, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) seedUser(userID string) {
	raw, _ := json.Marshal(domain.UserData{ID: userID})
	m.Set(context.Background(), storage.KeyUserData, raw)
}

// recordNotifier collects toasts instead of showing them.
type recordNotifier struct {
	mutex     sync.Mutex
	successes []string
	errors    []string
	sounds    int
}

func (n *recordNotifier) Success(message string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.successes = append(n.successes, message)
}

func (n *recordNotifier) Error(message string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordNotifier) BidSound() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.sounds++
}

func (n *recordNotifier) errorCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.errors)
}

func (n *recordNotifier) successCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.successes)
}

// captureNavigator records where the store sends the user.
type captureNavigator struct {
	moves chan string // car id, or "" for the listing
}

func newCaptureNavigator() *captureNavigator {
	return &captureNavigator{moves: make(chan string, 4)}
}

func (n *captureNavigator) GoToCar(carID string) { n.moves <- carID }
func (n *captureNavigator) GoToListing()         { n.moves <- "" }

// fakeEmitter implements domain.Emitter without a socket.
type fakeEmitter struct {
	mutex     sync.Mutex
	connected bool
	events    []string
	payloads  []interface{}
}

func (e *fakeEmitter) Emit(event string, payload interface{}) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.connected {
		return nil // silent drop, same contract as the real client
	}
	e.events = append(e.events, event)
	e.payloads = append(e.payloads, payload)
	return nil
}

func (e *fakeEmitter) IsConnected() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.connected
}

func (e *fakeEmitter) emitted() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string(nil), e.events...)
}

func ptr(value float64) *float64 { return &value }

func boolPtr(value bool) *bool { return &value }

func carDetails(carID string, startingBid, margin float64) *domain.CarDetails {
	return &domain.CarDetails{
		Car: domain.Car{ID: carID, StartingBid: startingBid, BidMargin: margin},
	}
}
