package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"sync/atomic"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Adapter is the capability surface common to all storage backends.
type Adapter interface {
	io.Closer

	// Name returns the backend name (bucket or directory name)
	Name() string

	// CanPresign reports whether GenerateUploadURL and GetDownloadURL are
	// expected to succeed.
	CanPresign() bool

	// UploadFile transfers the request body to the backend. The sequence is
	// lazy: nothing happens until it is ranged over, and it can be ranged
	// over only once. It ends with exactly one terminal uploading event at
	// 100% on success, or with a non-nil error. Stopping iteration early
	// aborts the transfer. Partial objects are not guaranteed to be removed.
	UploadFile(context.Context, UploadFileRequest) iter.Seq2[schema.ProgressEvent, error]

	// GenerateUploadURL returns a presigned write URL for key, or
	// ErrCapabilityUnsupported.
	GenerateUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (*schema.PresignedURL, error)

	// GetFile returns the object with its content buffered in memory.
	GetFile(ctx context.Context, key string) (*schema.StorageObject, error)

	// StreamObject returns the object with its content as a stream, which
	// the caller must close.
	StreamObject(ctx context.Context, key string) (*schema.ObjectStream, error)

	// Stat returns object metadata without content.
	Stat(ctx context.Context, key string) (*schema.StorageObject, error)

	// GetDownloadURL returns a presigned read URL, or ErrCapabilityUnsupported.
	GetDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)

	// DeleteFile removes the object, or returns ErrNotFound.
	DeleteFile(ctx context.Context, key string) error

	// FileURL returns the canonical (unsigned) URL of key.
	FileURL(key string) string
}

// UploadFileRequest describes one transfer into a backend.
type UploadFileRequest struct {
	UploadID    string
	Key         string
	ContentType string
	Body        io.Reader
	Size        int64 // total bytes in Body, used for percentages
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns the adapter for a storage URL. Supported schemes are s3://,
// file:// and mem://. The backend is chosen once and never changes for the
// lifetime of the adapter.
func New(ctx context.Context, u string, opts ...Opt) (Adapter, error) {
	url, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	switch url.Scheme {
	case "s3":
		return NewS3Adapter(ctx, u, opts...)
	case "file", "mem":
		return NewBlobAdapter(ctx, u, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", url.Scheme)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Upload ranges over the adapter's transfer sequence, forwarding every
// non-terminal event to publish. The terminal event is returned rather than
// published so that the caller can commit its own state before announcing
// completion.
func Upload(ctx context.Context, adapter Adapter, req UploadFileRequest, publish func(schema.ProgressEvent)) (*schema.FileRef, *schema.ProgressEvent, error) {
	var terminal *schema.ProgressEvent
	for evt, err := range adapter.UploadFile(ctx, req) {
		if err != nil {
			return nil, nil, err
		}
		if evt.Terminal() {
			terminal = &evt
			break
		}
		if publish != nil {
			publish(evt)
		}
	}
	if terminal == nil {
		return nil, nil, videoframe.ErrTransfer.Withf("transfer of %q ended without completing", req.Key)
	}
	return &schema.FileRef{URL: adapter.FileURL(req.Key), Key: req.Key}, terminal, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// once wraps a sequence so that a second range over it yields an error
// rather than repeating the transfer.
func once(seq iter.Seq2[schema.ProgressEvent, error]) iter.Seq2[schema.ProgressEvent, error] {
	var used atomic.Bool
	return func(yield func(schema.ProgressEvent, error) bool) {
		if used.Swap(true) {
			yield(schema.ProgressEvent{}, videoframe.ErrTransfer.With("upload sequence already consumed"))
			return
		}
		seq(yield)
	}
}
