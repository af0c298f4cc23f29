// Package notify pushes appointment changes to connected admin dashboards.
// Delivery is best effort and at most once: a session whose buffer is full
// misses the event, and reconnecting sessions get no replay.
package notify

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type Event struct {
	Kind          appointment.EventKind `json:"event"`
	AppointmentID uuid.UUID             `json:"appointmentId"`
	Version       int64                 `json:"version"`
	Date          string                `json:"date"`
	Appointment   appointment.View      `json:"appointment"`
	Timestamp     time.Time             `json:"timestamp"`
}

func NewEvent(kind appointment.EventKind, a appointment.Appointment) Event {
	return Event{
		Kind:          kind,
		AppointmentID: a.ID,
		Version:       a.Version,
		Date:          a.Date.Format(appointment.DateFormat),
		Appointment:   a.View(),
		Timestamp:     time.Now().UTC(),
	}
}

// Forwarder carries events to every instance's hub, this one included.
type Forwarder interface {
	Forward(ctx context.Context, ev Event) error
}

// Observer counts deliveries. reason is "buffer_full", "queue_full" or
// "stale".
type Observer interface {
	EventDelivered(kind string)
	EventDropped(reason string)
}

type Session struct {
	ID   string
	Send chan []byte

	once sync.Once
}

func (s *Session) close() {
	s.once.Do(func() { close(s.Send) })
}

type queued struct {
	ctx context.Context
	ev  Event
}

type tracked struct {
	id      uuid.UUID
	version int64
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Notify only enqueues; one dispatcher drains the queue so events leave
	// this instance in the order they were committed.
	queue     chan queued
	queueSize int
	done      chan struct{}
	closeOnce sync.Once

	// versions holds the newest version seen per appointment, least recently
	// touched at the back, so a duplicate arriving from another instance is
	// not delivered twice.
	versionsMu sync.Mutex
	versions   map[uuid.UUID]*list.Element
	recency    *list.List
	maxTracked int

	bufferSize int
	forwarder  Forwarder
	observer   Observer
	log        *zap.Logger
}

type Option func(*Hub)

func WithBufferSize(n int) Option { return func(h *Hub) { h.bufferSize = n } }

func WithQueueSize(n int) Option { return func(h *Hub) { h.queueSize = n } }

func WithMaxTracked(n int) Option { return func(h *Hub) { h.maxTracked = n } }

func WithObserver(o Observer) Option { return func(h *Hub) { h.observer = o } }

func NewHub(log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
		versions:   make(map[uuid.UUID]*list.Element),
		recency:    list.New(),
		maxTracked: 10000,
		queueSize:  1024,
		bufferSize: 64,
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.observer == nil {
		h.observer = nopObserver{}
	}
	h.queue = make(chan queued, h.queueSize)

	go h.dispatch()
	return h
}

// SetForwarder routes Notify through f instead of publishing locally. f must
// eventually call Publish on this hub.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = f
}

func (h *Hub) Subscribe(sessionID string) *Session {
	s := &Session{ID: sessionID, Send: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[sessionID]; ok {
		old.close()
	}
	h.sessions[sessionID] = s
	return s
}

func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.sessions[s.ID]; ok && cur == s {
		delete(h.sessions, s.ID)
	}
	s.close()
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Notify implements appointment.Notifier. It never blocks: when the queue is
// full the event is dropped.
func (h *Hub) Notify(ctx context.Context, kind appointment.EventKind, a appointment.Appointment) {
	ev := NewEvent(kind, a)

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.queue <- queued{ctx: ctx, ev: ev}:
	default:
		h.observer.EventDropped("queue_full")
		h.log.Warn("event queue full, event dropped",
			zap.String("appointment_id", ev.AppointmentID.String()),
			zap.String("event", string(ev.Kind)),
		)
	}
}

func (h *Hub) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case q := <-h.queue:
			h.deliver(q.ctx, q.ev)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, ev Event) {
	h.mu.RLock()
	fwd := h.forwarder
	h.mu.RUnlock()

	if fwd != nil {
		err := fwd.Forward(ctx, ev)
		if err == nil {
			return
		}
		h.log.Warn("forward event failed, publishing locally",
			zap.String("appointment_id", ev.AppointmentID.String()),
			zap.Error(err),
		)
	}
	h.Publish(ctx, ev)
}

// Publish fans ev out to every session without blocking.
func (h *Hub) Publish(_ context.Context, ev Event) {
	if !h.admit(ev) {
		h.observer.EventDropped("stale")
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		select {
		case s.Send <- data:
			h.observer.EventDelivered(string(ev.Kind))
		default:
			h.observer.EventDropped("buffer_full")
			h.log.Debug("session buffer full, event dropped",
				zap.String("session_id", s.ID),
				zap.String("appointment_id", ev.AppointmentID.String()),
			)
		}
	}
}

func (h *Hub) admit(ev Event) bool {
	h.versionsMu.Lock()
	defer h.versionsMu.Unlock()

	if el, ok := h.versions[ev.AppointmentID]; ok {
		t := el.Value.(*tracked)
		if ev.Version <= t.version {
			return false
		}
		t.version = ev.Version
		h.recency.MoveToFront(el)
		return true
	}

	h.versions[ev.AppointmentID] = h.recency.PushFront(&tracked{id: ev.AppointmentID, version: ev.Version})
	for h.recency.Len() > h.maxTracked {
		oldest := h.recency.Back()
		h.recency.Remove(oldest)
		delete(h.versions, oldest.Value.(*tracked).id)
	}
	return true
}

// Close stops the dispatcher and drops every session. Events still queued
// are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.sessions {
		s.close()
		delete(h.sessions, id)
	}
}

type nopObserver struct{}

func (nopObserver) EventDelivered(string) {}
func (nopObserver) EventDropped(string)   {}
