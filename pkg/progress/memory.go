package progress

import (
	"context"
	"sync"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Memory is an in-process bus
type Memory struct {
	sync.Mutex
	subs     map[string]map[*memsub]struct{}
	terminal map[string]time.Time // upload id to expiry of its marker
	closed   bool
}

type memsub struct {
	bus  *Memory
	id   string
	ch   chan schema.ProgressEvent
	done chan struct{}
}

var _ Bus = (*Memory)(nil)
var _ Subscription = (*memsub)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewMemory returns an empty in-process bus
func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string]map[*memsub]struct{}),
		terminal: make(map[string]time.Time),
	}
}

// Close ends all subscriptions
func (m *Memory) Close() error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id := range m.subs {
		m.endAll(id)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Publish delivers evt to every current subscriber without blocking. When a
// subscriber buffer is full the oldest pending event is dropped, so that the
// terminal event always gets through.
func (m *Memory) Publish(_ context.Context, evt schema.ProgressEvent) error {
	if evt.UploadID == "" {
		return videoframe.ErrValidation.With("progress event without upload id")
	}

	m.Lock()
	defer m.Unlock()
	if m.closed {
		return videoframe.ErrConnection.With("progress bus is closed")
	}
	if m.isTerminal(evt.UploadID) {
		return nil
	}
	for sub := range m.subs[evt.UploadID] {
		sub.send(evt)
	}
	if evt.Terminal() {
		m.expire()
		m.terminal[evt.UploadID] = time.Now().Add(terminalTTL)
		m.endAll(evt.UploadID)
	}
	return nil
}

// Subscribe to events for uploadID. A subscription made after the terminal
// event has been published is returned already ended.
func (m *Memory) Subscribe(ctx context.Context, uploadID string) (Subscription, error) {
	if uploadID == "" {
		return nil, videoframe.ErrValidation.With("missing upload id")
	}
	sub := &memsub{
		bus:  m,
		id:   uploadID,
		ch:   make(chan schema.ProgressEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	m.Lock()
	if m.closed {
		m.Unlock()
		return nil, videoframe.ErrConnection.With("progress bus is closed")
	}
	if m.isTerminal(uploadID) {
		sub.end()
		m.Unlock()
		return sub, nil
	}
	set, exists := m.subs[uploadID]
	if !exists {
		set = make(map[*memsub]struct{})
		m.subs[uploadID] = set
	}
	set[sub] = struct{}{}
	m.Unlock()

	// End the subscription with the context
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	// Return success
	return sub, nil
}

// Forget releases the terminal marker for uploadID. It is called when a
// session is pruned.
func (m *Memory) Forget(uploadID string) {
	m.Lock()
	defer m.Unlock()
	delete(m.terminal, uploadID)
}

// Subscribers returns the number of open subscriptions for uploadID
func (m *Memory) Subscribers(uploadID string) int {
	m.Lock()
	defer m.Unlock()
	return len(m.subs[uploadID])
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// isTerminal reports whether the terminal event for id has been published,
// with the lock held
func (m *Memory) isTerminal(id string) bool {
	expires, exists := m.terminal[id]
	return exists && time.Now().Before(expires)
}

// expire removes stale terminal markers, with the lock held
func (m *Memory) expire() {
	now := time.Now()
	for id, expires := range m.terminal {
		if !now.Before(expires) {
			delete(m.terminal, id)
		}
	}
}

// endAll ends every subscription for id, with the lock held
func (m *Memory) endAll(id string) {
	for sub := range m.subs[id] {
		sub.end()
	}
	delete(m.subs, id)
}

////////////////////////////////////////////////////////////////////////////////
// SUBSCRIPTION

func (s *memsub) Events() <-chan schema.ProgressEvent {
	return s.ch
}

func (s *memsub) Close() error {
	s.bus.Lock()
	defer s.bus.Unlock()
	set := s.bus.subs[s.id]
	if _, exists := set[s]; !exists {
		return nil
	}
	delete(set, s)
	if len(set) == 0 {
		delete(s.bus.subs, s.id)
	}
	s.end()
	return nil
}

// end closes the channels, with the bus lock held
func (s *memsub) end() {
	close(s.ch)
	close(s.done)
}

// send delivers evt, dropping the oldest pending event when the buffer is
// full. Called with the bus lock held, so there is no other sender.
func (s *memsub) send(evt schema.ProgressEvent) {
	for {
		select {
		case s.ch <- evt:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
