package manager

import (
	"sync"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// session is the mutable state behind one schema.Session
type session struct {
	sync.Mutex
	schema.Session

	// Background transfer, when one has been started
	cancel func()
	done   chan struct{}

	// When the session reached a terminal state
	endedAt time.Time
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newSession(uploadID, key, filename, contentType string, mode schema.Mode) *session {
	return &session{
		Session: schema.Session{
			UploadID:    uploadID,
			Key:         key,
			Filename:    filename,
			ContentType: contentType,
			Mode:        mode,
			State:       schema.StateCreated,
			CreatedAt:   time.Now(),
		},
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// transition moves the session to next, with the lock held
func (s *session) transition(next schema.State) error {
	if !s.State.CanTransition(next) {
		return videoframe.ErrConflict.Withf("upload %q cannot move from %s to %s", s.UploadID, s.State, next)
	}
	s.State = next
	if next.Terminal() {
		s.endedAt = time.Now()
	}
	return nil
}

// fail moves the session to FAILED and records the reason, with the lock
// held. It returns false when the session had already ended.
func (s *session) fail(err error) bool {
	if s.State.Terminal() {
		return false
	}
	s.transition(schema.StateFailed)
	if err != nil {
		s.Error = err.Error()
	}
	return true
}

// snapshot returns a copy of the public state, with the lock held
func (s *session) snapshot() *schema.Session {
	result := s.Session
	return &result
}

// expired reports whether a terminal session is older than retention, with
// the lock held
func (s *session) expired(now time.Time, retention time.Duration) bool {
	return s.State.Terminal() && now.Sub(s.endedAt) > retention
}

// abandoned reports whether a direct upload is still waiting for the
// client after its upload URL has expired, with the lock held
func (s *session) abandoned(now time.Time, expiry time.Duration) bool {
	return s.Mode == schema.ModeDirect && s.State == schema.StateAwaitingTransfer && now.Sub(s.CreatedAt) > expiry
}
