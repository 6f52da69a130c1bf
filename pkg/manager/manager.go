package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	videoframe "github.com/michealrm/video-submission-frame"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	progress "github.com/michealrm/video-submission-frame/pkg/progress"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	storage "github.com/michealrm/video-submission-frame/pkg/storage"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	errgroup "golang.org/x/sync/errgroup"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Manager owns the upload sessions. It mediates between clients, the
// storage adapter and the progress bus.
type Manager struct {
	opts
	metrics *metrics

	lock     sync.RWMutex
	sessions map[string]*session // by upload id
	keys     map[string]*session // by storage key

	// Background transfers run on ctx, which is canceled on Close
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// forgetter is implemented by buses which keep terminal markers
type forgetter interface {
	Forget(uploadID string)
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// deleteTimeout bounds a best-effort delete which outlives its request
	deleteTimeout = 30 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new upload manager. A storage adapter is required.
func New(ctx context.Context, opts ...Opt) (*Manager, error) {
	self := new(Manager)

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else if opt.storage == nil {
		return nil, videoframe.ErrValidation.With("no storage backend configured")
	} else {
		self.opts = opt
	}

	// Defaults for the bus and prober
	if self.bus == nil {
		self.bus = progress.NewMemory()
	}
	if self.prober == nil {
		if prober, err := probe.New(); err != nil {
			return nil, err
		} else {
			self.prober = prober
		}
	}

	// Metrics
	if metrics, err := newMetrics(self.meter); err != nil {
		return nil, err
	} else {
		self.metrics = metrics
	}

	// Session tables
	self.sessions = make(map[string]*session)
	self.keys = make(map[string]*session)

	// Transfers keep the values of ctx but not its cancellation
	self.ctx, self.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// Return success
	return self, nil
}

// Close cancels running transfers, waits for them to end, then closes the
// progress bus and the storage adapter.
func (manager *Manager) Close() error {
	var result error
	manager.cancel()
	if err := manager.group.Wait(); err != nil {
		result = errors.Join(result, err)
	}
	if err := manager.bus.Close(); err != nil {
		result = errors.Join(result, err)
	}
	if err := manager.storage.Close(); err != nil {
		result = errors.Join(result, err)
	}

	// Return any errors
	return result
}

// Run prunes terminal sessions older than the retention period, and fails
// abandoned direct uploads, until ctx is done.
func (manager *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(min(manager.retention/2, time.Minute), 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := manager.prune(now); n > 0 {
				manager.log.Debug().Int("sessions", n).Msg("pruned sessions")
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Capabilities returns the limits uploads are validated against
func (manager *Manager) Capabilities() schema.Capabilities {
	caps := manager.caps
	caps.AllowedMimeTypes = slices.Clone(caps.AllowedMimeTypes)
	return caps
}

// Mode returns the transfer mode clients should use
func (manager *Manager) Mode() schema.Mode {
	if manager.mode != "" {
		return manager.mode
	} else if manager.storage.CanPresign() {
		return schema.ModeDirect
	} else {
		return schema.ModeProxied
	}
}

// Config returns what the widget needs to enforce limits locally
func (manager *Manager) Config() schema.ConfigResponse {
	return schema.ConfigResponse{
		Capabilities: manager.Capabilities(),
		Mode:         manager.Mode(),
		Backend:      manager.storage.Name(),
	}
}

// CanPresign reports whether download URLs can be presigned
func (manager *Manager) CanPresign() bool {
	return manager.storage.CanPresign()
}

// Session returns a snapshot of the session with the given upload id
func (manager *Manager) Session(uploadID string) (*schema.Session, error) {
	manager.lock.RLock()
	s, exists := manager.sessions[uploadID]
	manager.lock.RUnlock()
	if !exists {
		return nil, videoframe.ErrNotFound.Withf("upload %q", uploadID)
	}
	s.Lock()
	defer s.Unlock()
	return s.snapshot(), nil
}

// SessionForKey returns a snapshot of the session which owns the key
func (manager *Manager) SessionForKey(key string) (*schema.Session, error) {
	manager.lock.RLock()
	s, exists := manager.keys[key]
	manager.lock.RUnlock()
	if !exists {
		return nil, videoframe.ErrNotFound.Withf("no upload for key %q", key)
	}
	s.Lock()
	defer s.Unlock()
	return s.snapshot(), nil
}

// Subscribe returns a progress subscription for the upload, together with
// the session snapshot taken after subscribing. The snapshot is nil when
// the session is not known to this process, which is the case when another
// process is running the transfer.
func (manager *Manager) Subscribe(ctx context.Context, uploadID string) (progress.Subscription, *schema.Session, error) {
	sub, err := manager.bus.Subscribe(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	session, err := manager.Session(uploadID)
	if errors.Is(err, videoframe.ErrNotFound) {
		return sub, nil, nil
	} else if err != nil {
		return nil, nil, errors.Join(err, sub.Close())
	}
	return sub, session, nil
}

// GetFile returns an object with its content in memory
func (manager *Manager) GetFile(ctx context.Context, key string) (_ *schema.StorageObject, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("GetFile"))
	defer func() { endFunc(err) }()

	return manager.storage.GetFile(child, key)
}

// StreamObject returns an object with its content as a stream, which the
// caller must close
func (manager *Manager) StreamObject(ctx context.Context, key string) (_ *schema.ObjectStream, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("StreamObject"))
	defer func() { endFunc(err) }()

	return manager.storage.StreamObject(child, key)
}

// GetDownloadURL returns a presigned read URL for an existing object
func (manager *Manager) GetDownloadURL(ctx context.Context, key string) (_ string, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("GetDownloadURL"))
	defer func() { endFunc(err) }()

	if _, err := manager.storage.Stat(child, key); err != nil {
		return "", err
	}
	return manager.storage.GetDownloadURL(child, key, manager.presignExpiry)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// register creates a session in the CREATED state
func (manager *Manager) register(mode schema.Mode, filename, contentType string) (*session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	s := newSession(id.String(), storage.NewKey(filename, time.Now()), filename, contentType, mode)

	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[s.UploadID] = s
	manager.keys[s.Key] = s

	manager.log.Debug().Str("uploadId", s.UploadID).Str("key", s.Key).Str("mode", string(mode)).Msg("session created")
	return s, nil
}

// lookup returns the session for an upload id, or nil
func (manager *Manager) lookup(uploadID string) *session {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return manager.sessions[uploadID]
}

// discard removes a session from the tables
func (manager *Manager) discard(s *session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	if manager.sessions[s.UploadID] == s {
		delete(manager.sessions, s.UploadID)
	}
	if manager.keys[s.Key] == s {
		delete(manager.keys, s.Key)
	}
}

// prune discards terminal sessions older than the retention period and
// returns how many were removed. Direct uploads never completed before
// their upload URL expired are failed here, and discarded on a later pass.
func (manager *Manager) prune(now time.Time) int {
	var expired []*session
	var abandoned []string
	manager.lock.RLock()
	for _, s := range manager.sessions {
		s.Lock()
		if s.abandoned(now, manager.presignExpiry) {
			err := videoframe.ErrTransfer.With("Upload was not completed before the upload URL expired")
			if s.fail(err) {
				manager.publish(s, schema.NewFailedEvent(s.UploadID, err))
				manager.metrics.ended(&s.Session)
				manager.log.Info().Str("uploadId", s.UploadID).Str("key", s.Key).Msg("direct upload abandoned")
				abandoned = append(abandoned, s.Key)
			}
		} else if s.expired(now, manager.retention) {
			expired = append(expired, s)
		}
		s.Unlock()
	}
	manager.lock.RUnlock()

	// The client may have written part of the object
	for _, key := range abandoned {
		manager.deleteObject(manager.ctx, key)
	}

	for _, s := range expired {
		manager.discard(s)
		if bus, ok := manager.bus.(forgetter); ok {
			bus.Forget(s.UploadID)
		}
	}
	return len(expired)
}

// publish sends an event for the session, with the session lock held so
// that nothing is published once the session has ended
func (manager *Manager) publish(s *session, evt schema.ProgressEvent) {
	if err := manager.bus.Publish(manager.ctx, evt); err != nil {
		manager.log.Warn().Err(err).Str("uploadId", s.UploadID).Str("phase", string(evt.Phase)).Msg("failed to publish progress")
	}
}

// failSession moves the session to FAILED, announces the failure and
// returns err
func (manager *Manager) failSession(s *session, err error) error {
	s.Lock()
	defer s.Unlock()
	if s.fail(err) {
		manager.publish(s, schema.NewFailedEvent(s.UploadID, err))
		manager.metrics.ended(&s.Session)
		manager.log.Info().Err(err).Str("uploadId", s.UploadID).Str("key", s.Key).Msg("upload failed")
	}
	return err
}

// deleteObject removes an object on a best-effort basis. A missing object
// is not an error, and other failures are logged.
func (manager *Manager) deleteObject(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := manager.storage.DeleteFile(ctx, key); errors.Is(err, videoframe.ErrNotFound) {
		manager.log.Debug().Str("key", key).Msg("nothing to delete")
	} else if err != nil {
		manager.log.Warn().Err(err).Str("key", key).Msg("failed to delete object")
	} else {
		manager.log.Debug().Str("key", key).Msg("deleted object")
	}
}

func spanManagerName(op string) string {
	return schema.SchemaName + ".manager." + op
}
