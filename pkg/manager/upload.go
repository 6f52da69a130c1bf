package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	storage "github.com/michealrm/video-submission-frame/pkg/storage"
	otel "github.com/mutablelogic/go-client/pkg/otel"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// CreateUploadRequest is a proxied upload, with the file body streamed
// through the server.
type CreateUploadRequest struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Replace     string // upload id to cancel first
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// CreateUpload stages and validates a proxied upload, then starts the
// transfer to storage in the background. The returned session is in the
// TRANSFERRING state, and progress is published on the bus under its upload
// id. A file which fails validation is removed from staging before the
// error is returned.
func (manager *Manager) CreateUpload(ctx context.Context, req CreateUploadRequest) (_ *schema.Session, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("CreateUpload"))
	defer func() { endFunc(err) }()

	if req.Body == nil {
		return nil, videoframe.ErrValidation.With("No video file uploaded")
	}
	if err := manager.replace(child, req.Replace); err != nil {
		return nil, err
	}

	// Create the session and check the declared type
	s, err := manager.register(schema.ModeProxied, req.Filename, req.ContentType)
	if err != nil {
		return nil, err
	}
	s.Lock()
	err = s.transition(schema.StateValidating)
	s.Unlock()
	if err != nil {
		return nil, err
	}
	if !manager.caps.Allowed(req.ContentType) {
		return nil, manager.failSession(s, videoframe.ErrValidation.Withf("Invalid file type %q. Only video files are allowed.", req.ContentType))
	}

	// Stage the body and validate its content
	staged, size, err := manager.stage(req.Body)
	if err != nil {
		return nil, manager.failSession(s, err)
	}
	info, err := manager.validate(child, staged)
	if err != nil {
		manager.removeStaged(staged)
		return nil, manager.failSession(s, err)
	}

	// Start the transfer
	s.Lock()
	defer s.Unlock()
	if err := s.transition(schema.StateAwaitingTransfer); err != nil {
		manager.removeStaged(staged)
		return nil, err
	}
	s.BytesTotal = size
	s.Duration = info.Duration.Seconds()
	if err := s.transition(schema.StateTransferring); err != nil {
		manager.removeStaged(staged)
		return nil, err
	}
	tctx, cancel := context.WithCancel(manager.ctx)
	s.cancel, s.done = cancel, make(chan struct{})
	upload := storage.UploadFileRequest{
		UploadID:    s.UploadID,
		Key:         s.Key,
		ContentType: s.ContentType,
		Size:        size,
	}
	done := s.done
	manager.group.Go(func() error {
		defer close(done)
		defer cancel()
		manager.transfer(tctx, s, staged, upload)
		return nil
	})

	manager.log.Info().Str("uploadId", s.UploadID).Str("key", s.Key).Int64("size", size).Float64("duration", s.Duration).Msg("upload accepted")

	// Return success
	return s.snapshot(), nil
}

// FileURL returns the canonical URL an upload will have once complete
func (manager *Manager) FileURL(key string) string {
	return manager.storage.FileURL(key)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// transfer moves a staged file into storage. The staged file is always
// removed. A failed transfer removes any partial object.
func (manager *Manager) transfer(ctx context.Context, s *session, staged string, req storage.UploadFileRequest) {
	defer manager.removeStaged(staged)

	f, err := os.Open(staged)
	if err != nil {
		manager.transferFailed(ctx, s, videoframe.ErrTransfer.Withf("opening staged file: %v", err))
		return
	}
	defer f.Close()
	req.Body = f

	ref, terminal, err := storage.Upload(ctx, manager.storage, req, func(evt schema.ProgressEvent) {
		manager.progress(s, evt)
	})
	if err != nil {
		manager.transferFailed(ctx, s, err)
		return
	}

	// Commit the session before announcing completion
	s.Lock()
	defer s.Unlock()
	if err := s.transition(schema.StateCompleted); err != nil {
		// Canceled while the last part was in flight; the cancel removes the object
		manager.log.Debug().Err(err).Str("uploadId", s.UploadID).Msg("transfer finished after cancel")
		return
	}
	s.URL = ref.URL
	s.BytesTransferred = terminal.Processed
	s.LastProgressAt = time.Now()
	manager.publish(s, *terminal)
	manager.metrics.ended(&s.Session)
	manager.log.Info().Str("uploadId", s.UploadID).Str("url", s.URL).Int64("size", s.BytesTransferred).Msg("upload complete")
}

// progress records and publishes a non-terminal event
func (manager *Manager) progress(s *session, evt schema.ProgressEvent) {
	s.Lock()
	defer s.Unlock()
	if s.State.Terminal() {
		return
	}
	if evt.Phase == schema.PhaseUploading {
		s.BytesTransferred = evt.Processed
	}
	s.LastProgressAt = time.Now()
	manager.publish(s, evt)
}

// transferFailed fails the session unless it has already ended, and
// removes whatever the backend may have kept
func (manager *Manager) transferFailed(ctx context.Context, s *session, err error) {
	s.Lock()
	failed := s.fail(err)
	if failed {
		manager.publish(s, schema.NewFailedEvent(s.UploadID, err))
		manager.metrics.ended(&s.Session)
	}
	key := s.Key
	s.Unlock()
	if failed {
		manager.log.Warn().Err(err).Str("uploadId", s.UploadID).Str("key", key).Msg("transfer failed")
		manager.deleteObject(ctx, key)
	}
}

// replace cancels the upload a new one supersedes
func (manager *Manager) replace(ctx context.Context, uploadID string) error {
	if uploadID == "" {
		return nil
	}
	if s := manager.lookup(uploadID); s == nil {
		return nil
	} else {
		return manager.CancelUpload(ctx, s.Key)
	}
}

// stage copies r into a temporary file, enforcing the size limit. The file
// is removed on error.
func (manager *Manager) stage(r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(manager.stagingDir, schema.SchemaName+"-*")
	if err != nil {
		return "", 0, err
	}
	path := f.Name()

	var limit io.Reader = r
	if manager.caps.MaxFileSize > 0 {
		limit = io.LimitReader(r, manager.caps.MaxFileSize+1)
	}
	n, err := io.Copy(f, limit)
	if err != nil {
		err = videoframe.ErrTransfer.Withf("staging upload: %v", err)
	} else if manager.caps.MaxFileSize > 0 && n > manager.caps.MaxFileSize {
		err = videoframe.ErrValidation.Withf("File too large. Maximum size is %d bytes", manager.caps.MaxFileSize)
	}
	err = errors.Join(err, f.Close())
	if err != nil {
		manager.removeStaged(path)
		return "", 0, err
	}

	// Return success
	return path, n, nil
}

// validate probes a staged file and checks its content type and duration
func (manager *Manager) validate(ctx context.Context, path string) (*probe.Info, error) {
	info, err := manager.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(info.Types, manager.caps.Allowed) {
		return nil, videoframe.ErrValidation.Withf("Invalid file type %q. Only video files are allowed.", info.MimeType)
	}
	if err := probe.CheckDuration(info.Duration, manager.caps.MaxDuration()); err != nil {
		return nil, err
	}
	return info, nil
}

// removeStaged deletes a staging file, logging any failure
func (manager *Manager) removeStaged(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		manager.log.Warn().Err(err).Str("path", path).Msg("failed to remove staged file")
	}
}
