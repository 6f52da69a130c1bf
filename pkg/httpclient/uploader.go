package httpclient

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Packages
	backoff "github.com/cenkalti/backoff/v4"
	videoframe "github.com/michealrm/video-submission-frame"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	zerolog "github.com/rs/zerolog"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// UploadState is the state of an Uploader as seen by the user.
type UploadState string

// Uploader drives one upload at a time: local validation, transfer in
// direct or proxied mode, progress, and cancellation.
type Uploader struct {
	client *Client
	opts   uploaderOpts

	// run serializes calls to Upload
	run sync.Mutex

	mu       sync.Mutex
	state    UploadState
	uploadID string
	key      string
	cancel   context.CancelFunc
	done     chan struct{}
	deletes  sync.WaitGroup
}

// localFile is a file which passed local validation
type localFile struct {
	path        string
	name        string
	contentType string
	size        int64
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	UploadIdle         UploadState = "idle"
	UploadValidating   UploadState = "validating"
	UploadTransferring UploadState = "transferring"
	UploadCompleted    UploadState = "completed"
	UploadCanceled     UploadState = "canceled"
	UploadFailed       UploadState = "failed"
)

// deleteTimeout bounds the background delete after a cancel
const deleteTimeout = 30 * time.Second

var errLiveness = videoframe.ErrConnection.With("no progress received")

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewUploader returns an uploader which sends files through the client.
func (c *Client) NewUploader(opts ...UploaderOpt) (*Uploader, error) {
	self := &Uploader{
		client: c,
		state:  UploadIdle,
		opts: uploaderOpts{
			logger:         zerolog.Nop(),
			liveness:       DefaultLiveness,
			reconnects:     DefaultReconnects,
			reconnectDelay: DefaultReconnectDelay,
		},
	}
	for _, opt := range opts {
		if err := opt(&self.opts); err != nil {
			return nil, err
		}
	}
	if self.opts.prober == nil {
		prober, err := probe.New()
		if err != nil {
			return nil, err
		}
		self.opts.prober = prober
	}
	return self, nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (s UploadState) Active() bool {
	return s == UploadValidating || s == UploadTransferring
}

// State returns the current state of the uploader.
func (u *Uploader) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// UploadID returns the id of the current or last upload, or empty if the
// server has not yet assigned one.
func (u *Uploader) UploadID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploadID
}

// Key returns the storage key of the current or last upload.
func (u *Uploader) Key() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.key
}

// Upload validates the file at path and uploads it, returning the completed
// session. Any upload already in flight is canceled first, and the server is
// asked to replace the previous upload. Validation failures are returned
// without contacting storage.
func (u *Uploader) Upload(ctx context.Context, path string) (*schema.Session, error) {
	replace := u.abort()
	u.run.Lock()
	defer u.run.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	u.mu.Lock()
	u.state, u.uploadID, u.key = UploadValidating, "", ""
	u.cancel, u.done = cancel, done
	u.mu.Unlock()

	session, err := u.upload(ctx, path, replace)
	return session, u.finish(err)
}

// Cancel aborts the upload in flight. The state is canceled when Cancel
// returns, and the object is deleted in the background once the transfer
// has stopped. A failed delete is logged and does not change the state.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.state.Active() {
		return
	}
	u.state = UploadCanceled
	u.cancel()
	if u.key != "" {
		u.deleteAfter(u.done, u.key)
	}
}

// Wait blocks until background deletes have been attempted.
func (u *Uploader) Wait() {
	u.deletes.Wait()
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (u *Uploader) upload(ctx context.Context, path, replace string) (*schema.Session, error) {
	config, err := u.client.Config(ctx)
	if err != nil {
		return nil, err
	}
	file, err := u.validate(ctx, path, config)
	if err != nil {
		return nil, err
	}
	mode := u.opts.mode
	if mode == "" {
		mode = config.Mode
	}
	u.opts.logger.Debug().Str("path", path).Str("mode", string(mode)).Int64("size", file.size).Msg("upload")
	if mode == schema.ModeDirect {
		return u.direct(ctx, file, replace)
	}
	return u.proxied(ctx, file, replace)
}

// validate checks the file against the server limits before anything is sent
func (u *Uploader) validate(ctx context.Context, path string, config *schema.ConfigResponse) (*localFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	} else if !info.Mode().IsRegular() {
		return nil, videoframe.ErrValidation.Withf("%q is not a file", path)
	}
	if limit := config.MaxFileSize; limit > 0 && info.Size() > limit {
		return nil, videoframe.ErrValidation.Withf("File too large. Maximum size is %d bytes", limit)
	}

	// Check the type
	contentType, err := ContentTypeFor(path)
	if err != nil {
		return nil, err
	}
	if !config.Allowed(contentType) {
		return nil, videoframe.ErrValidation.Withf("Invalid file type %q. Only video files are allowed.", contentType)
	}

	// Check the duration
	if limit := config.MaxDuration(); limit > 0 {
		probed, err := u.opts.prober.Probe(ctx, path)
		if err != nil {
			return nil, videoframe.ErrValidation.With(err)
		}
		if err := probe.CheckDuration(probed.Duration, limit); err != nil {
			return nil, err
		}
	}

	return &localFile{
		path:        path,
		name:        filepath.Base(path),
		contentType: contentType,
		size:        info.Size(),
	}, nil
}

func (u *Uploader) direct(ctx context.Context, file *localFile, replace string) (*schema.Session, error) {
	presigned, err := u.client.Presign(ctx, schema.PresignRequest{
		Filename:    file.name,
		ContentType: file.contentType,
		Replace:     replace,
	})
	if err != nil {
		return nil, err
	}
	if err := u.target(presigned.UploadID, presigned.Key); err != nil {
		return nil, err
	}

	// Write to storage
	body, err := os.Open(file.path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if err := u.client.PutPresigned(ctx, presigned.URL, file.contentType, body, file.size, func(written, total int64) {
		u.emit(schema.NewProgressEvent(presigned.UploadID, schema.PhaseUploading, written, total))
	}); err != nil {
		return nil, err
	}

	// Report completion
	response, err := u.client.CompleteUpload(ctx, presigned.UploadID)
	if err != nil {
		return nil, err
	}
	u.emit(schema.NewCompleteEvent(presigned.UploadID, response.Session.BytesTotal))
	return &response.Session, nil
}

func (u *Uploader) proxied(ctx context.Context, file *localFile, replace string) (*schema.Session, error) {
	body, err := os.Open(file.path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	response, err := u.client.CreateUpload(ctx, UploadRequest{
		Filename:    file.name,
		ContentType: file.contentType,
		Body:        body,
		Size:        file.size,
		Replace:     replace,
		Progress: func(written, total int64) {
			u.emit(schema.NewProgressEvent("", schema.PhaseProcessing, written, total))
		},
	})
	if err != nil {
		return nil, err
	}
	if err := u.target(response.UploadID, response.File.Key); err != nil {
		return nil, err
	}

	// Follow the transfer to storage
	terminal, err := u.monitor(ctx, response.UploadID)
	if err != nil {
		return nil, err
	}
	if terminal.Phase == schema.PhaseFailed {
		return nil, videoframe.ErrTransfer.With(terminal.Message)
	}
	return u.client.Session(ctx, response.UploadID)
}

// monitor follows the progress stream to the terminal event, reconnecting
// after a fixed delay when the stream drops or goes silent
func (u *Uploader) monitor(ctx context.Context, uploadID string) (*schema.ProgressEvent, error) {
	var terminal *schema.ProgressEvent
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(u.opts.reconnectDelay), u.opts.reconnects), ctx)
	err := backoff.RetryNotify(func() error {
		evt, err := u.watch(ctx, uploadID)
		var response *ResponseError
		switch {
		case err == nil:
			terminal = evt
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, &response) && response.Status < 500:
			return backoff.Permanent(err)
		default:
			return err
		}
	}, policy, func(err error, delay time.Duration) {
		u.opts.logger.Warn().Err(err).Str("upload_id", uploadID).Dur("delay", delay).Msg("reconnecting progress stream")
	})
	switch {
	case err == nil:
		return terminal, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, videoframe.ErrConnection):
		return nil, err
	default:
		return nil, videoframe.ErrConnection.With(err)
	}
}

// watch reads one connection of the progress stream, which is abandoned
// when no event arrives within the liveness period. Keepalive comments do
// not reset the timer.
func (u *Uploader) watch(parent context.Context, uploadID string) (*schema.ProgressEvent, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	timer := time.AfterFunc(u.opts.liveness, func() {
		cancel(errLiveness)
	})
	defer timer.Stop()

	var terminal *schema.ProgressEvent
	err := u.client.progress(ctx, uploadID, func() {
		timer.Reset(u.opts.liveness)
	}, func(evt schema.ProgressEvent) error {
		u.emit(evt)
		if evt.Terminal() {
			terminal = &evt
		}
		return nil
	})
	if cause := context.Cause(ctx); errors.Is(cause, errLiveness) {
		return nil, cause
	} else if err != nil {
		return nil, err
	}
	return terminal, nil
}

// target records the upload id and key assigned by the server. When the
// upload was canceled while waiting for them, the key is deleted.
func (u *Uploader) target(uploadID, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploadID, u.key = uploadID, key
	if u.state == UploadCanceled {
		u.deleteAfter(u.done, key)
		return context.Canceled
	}
	u.state = UploadTransferring
	return nil
}

// abort cancels an upload in flight for a new one, and returns the upload
// id for the server to replace
func (u *Uploader) abort() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state.Active() {
		u.state = UploadCanceled
		u.cancel()
		if u.key != "" {
			u.deleteAfter(u.done, u.key)
		}
		return u.uploadID
	}
	if u.state == UploadCompleted {
		return u.uploadID
	}
	return ""
}

func (u *Uploader) finish(err error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.state == UploadCanceled:
		return context.Canceled
	case err == nil:
		u.state = UploadCompleted
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The caller gave up, which is a cancel
		u.state = UploadCanceled
		if u.key != "" {
			u.deleteAfter(u.done, u.key)
		}
		return err
	default:
		u.state = UploadFailed
		return err
	}
}

// deleteAfter deletes a key in the background once done is closed.
// Must be called with the lock held.
func (u *Uploader) deleteAfter(done <-chan struct{}, key string) {
	u.deletes.Add(1)
	go func() {
		defer u.deletes.Done()
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if _, err := u.client.DeleteUpload(ctx, key); err != nil {
			u.opts.logger.Warn().Err(err).Str("key", key).Msg("delete canceled upload")
		} else {
			u.opts.logger.Debug().Str("key", key).Msg("deleted canceled upload")
		}
	}()
}

func (u *Uploader) emit(evt schema.ProgressEvent) {
	if u.opts.progress != nil {
		u.opts.progress(evt)
	}
}
