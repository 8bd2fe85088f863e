package projection

import (
	"context"
	"sync"

	"github.com/example/fuelqueue/internal/booking/domain"
)

const watchBuffer = 16

// LiveQueue is the read-only view of one station's active queue. It follows
// the store's snapshot stream and performs no writes. Observers may see a
// stale-then-correct sequence of snapshots, but never a snapshot with
// duplicate positions once the store has converged.
type LiveQueue struct {
	stationID string
	cancel    func()

	mu       sync.RWMutex
	bookings []domain.Booking
	watchers []chan []domain.Booking
	closed   bool
}

// NewLiveQueue subscribes to the station's active set and starts following
// it until Close is called or ctx ends.
func NewLiveQueue(ctx context.Context, repo domain.Repository, stationID string) (*LiveQueue, error) {
	ch, cancel, err := repo.Subscribe(ctx, stationID)
	if err != nil {
		return nil, err
	}
	lq := &LiveQueue{stationID: stationID, cancel: cancel}
	go lq.run(ch)
	return lq, nil
}

func (l *LiveQueue) run(ch <-chan []domain.Booking) {
	for snapshot := range ch {
		l.apply(snapshot)
	}
}

func (l *LiveQueue) apply(snapshot []domain.Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.bookings = snapshot
	for _, w := range l.watchers {
		select {
		case w <- snapshot:
		default:
			// Shed the oldest pending snapshot for a slow observer;
			// delivery order of the remainder is preserved.
			select {
			case <-w:
			default:
			}
			select {
			case w <- snapshot:
			default:
			}
		}
	}
}

// StationID returns the station this projection follows.
func (l *LiveQueue) StationID() string { return l.stationID }

// Bookings returns the current snapshot ordered by position.
func (l *LiveQueue) Bookings() []domain.Booking {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Booking(nil), l.bookings...)
}

// Head returns the booking currently being served.
func (l *LiveQueue) Head() (domain.Booking, bool) {
	return l.at(0)
}

// Second returns the next booking in line after the head.
func (l *LiveQueue) Second() (domain.Booking, bool) {
	return l.at(1)
}

func (l *LiveQueue) at(i int) (domain.Booking, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i >= len(l.bookings) {
		return domain.Booking{}, false
	}
	return l.bookings[i], true
}

// Watch registers an observer channel receiving snapshots in order.
func (l *LiveQueue) Watch() (<-chan []domain.Booking, func()) {
	ch := make(chan []domain.Booking, watchBuffer)

	l.mu.Lock()
	l.watchers = append(l.watchers, ch)
	// Prime under the lock; apply also sends under the lock, so a commit
	// racing with registration cannot land ahead of the current state.
	ch <- append([]domain.Booking(nil), l.bookings...)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, w := range l.watchers {
			if w == ch {
				l.watchers = append(l.watchers[:i], l.watchers[i+1:]...)
				close(w)
				return
			}
		}
	}
	return ch, cancel
}

// Close stops following the store stream.
func (l *LiveQueue) Close() {
	l.cancel()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, w := range l.watchers {
		close(w)
	}
	l.watchers = nil
}

// Manager lazily starts one LiveQueue per station for consumers that view
// many stations, such as the HTTP layer. Projections live as long as the
// base context, not the request that first touched them.
type Manager struct {
	baseCtx context.Context
	repo    domain.Repository

	mu     sync.Mutex
	queues map[string]*LiveQueue
}

// NewManager constructs an empty Manager.
func NewManager(ctx context.Context, repo domain.Repository) *Manager {
	return &Manager{baseCtx: ctx, repo: repo, queues: make(map[string]*LiveQueue)}
}

// Queue returns the projection for a station, starting it on first use.
func (m *Manager) Queue(stationID string) (*LiveQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lq, ok := m.queues[stationID]; ok {
		return lq, nil
	}
	lq, err := NewLiveQueue(m.baseCtx, m.repo, stationID)
	if err != nil {
		return nil, err
	}
	m.queues[stationID] = lq
	return lq, nil
}

// Close stops every projection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lq := range m.queues {
		lq.Close()
	}
	m.queues = make(map[string]*LiveQueue)
}
