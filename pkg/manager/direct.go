package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	otel "github.com/mutablelogic/go-client/pkg/otel"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Presign creates a direct upload session and returns a write URL for its
// key. The session waits in AWAITING_TRANSFER until the client reports the
// write with CompleteUpload.
func (manager *Manager) Presign(ctx context.Context, req schema.PresignRequest) (_ *schema.PresignResponse, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Presign"))
	defer func() { endFunc(err) }()

	if req.Filename == "" {
		return nil, videoframe.ErrValidation.With("Missing filename")
	}
	if err := manager.replace(child, req.Replace); err != nil {
		return nil, err
	}

	// Create the session and check the declared type
	s, err := manager.register(schema.ModeDirect, req.Filename, req.ContentType)
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

	// Presign the key
	url, err := manager.storage.GenerateUploadURL(child, s.Key, req.ContentType, manager.presignExpiry)
	if err != nil {
		return nil, manager.failSession(s, err)
	}

	s.Lock()
	defer s.Unlock()
	if err := s.transition(schema.StateAwaitingTransfer); err != nil {
		return nil, err
	}
	manager.log.Info().Str("uploadId", s.UploadID).Str("key", s.Key).Time("expires", url.Expires).Msg("upload presigned")

	// Return success
	return &schema.PresignResponse{
		Success:  true,
		UploadID: s.UploadID,
		URL:      url.URL,
		Key:      s.Key,
	}, nil
}

// CompleteUpload is called once the client has written a direct upload.
// The object is fetched back and validated like a proxied upload. The
// object is deleted whenever the upload fails from here on. Completing an
// upload twice returns the completed session.
func (manager *Manager) CompleteUpload(ctx context.Context, uploadID string) (_ *schema.Session, err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("CompleteUpload"))
	defer func() { endFunc(err) }()

	s := manager.lookup(uploadID)
	if s == nil {
		return nil, videoframe.ErrNotFound.Withf("upload %q", uploadID)
	}

	// Move to TRANSFERRING while the object is checked
	s.Lock()
	if s.Mode != schema.ModeDirect {
		s.Unlock()
		return nil, videoframe.ErrConflict.Withf("upload %q is not a direct upload", uploadID)
	} else if s.State == schema.StateCompleted {
		defer s.Unlock()
		return s.snapshot(), nil
	} else if err := s.transition(schema.StateTransferring); err != nil {
		s.Unlock()
		return nil, err
	}
	key := s.Key
	s.Unlock()

	// No object survives a failed upload
	fail := func(err error) error {
		manager.deleteObject(child, key)
		return manager.failSession(s, err)
	}

	// The object must exist and be within limits
	object, err := manager.storage.Stat(child, key)
	if err != nil {
		return nil, fail(err)
	}
	if manager.caps.MaxFileSize > 0 && object.ContentLength > manager.caps.MaxFileSize {
		return nil, fail(videoframe.ErrValidation.Withf("File too large. Maximum size is %d bytes", manager.caps.MaxFileSize))
	}

	// Fetch it back and validate the content
	staged, err := manager.stageObject(child, key)
	if err != nil {
		return nil, fail(err)
	}
	defer manager.removeStaged(staged)
	info, err := manager.validate(child, staged)
	if err != nil {
		return nil, fail(err)
	}

	// Commit and announce
	s.Lock()
	defer s.Unlock()
	if err := s.transition(schema.StateCompleted); err != nil {
		return nil, err
	}
	s.Duration = info.Duration.Seconds()
	s.BytesTotal = object.ContentLength
	s.BytesTransferred = object.ContentLength
	s.URL = manager.storage.FileURL(key)
	s.LastProgressAt = time.Now()
	manager.publish(s, schema.NewCompleteEvent(s.UploadID, object.ContentLength))
	manager.metrics.ended(&s.Session)
	manager.log.Info().Str("uploadId", s.UploadID).Str("url", s.URL).Int64("size", object.ContentLength).Msg("direct upload complete")

	// Return success
	return s.snapshot(), nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// stageObject copies a stored object into a staging file for probing
func (manager *Manager) stageObject(ctx context.Context, key string) (string, error) {
	stream, err := manager.storage.StreamObject(ctx, key)
	if err != nil {
		return "", err
	}
	defer stream.Stream.Close()

	f, err := os.CreateTemp(manager.stagingDir, schema.SchemaName+"-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, stream.Stream); err != nil {
		err = errors.Join(videoframe.ErrTransfer.Withf("fetching %q: %v", key, err), f.Close())
		manager.removeStaged(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		manager.removeStaged(f.Name())
		return "", err
	}

	// Return success
	return f.Name(), nil
}
