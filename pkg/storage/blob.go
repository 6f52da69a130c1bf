package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	types "github.com/mutablelogic/go-server/pkg/types"
	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type blobadapter struct {
	*opt
	bucket *blob.Bucket
	name   string
}

var _ Adapter = (*blobadapter)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewBlobAdapter creates an adapter over a Go CDK bucket.
// Supported URL schemes: file://, mem://
// Examples:
//   - "file:///var/lib/videoframe/uploads"
//   - "file://uploads/var/lib/videoframe/uploads"
//   - "mem://uploads"
//
// For file:// the path is the root directory, which is created if missing,
// and the optional host names the backend.
// Blob adapters cannot presign, so they only serve proxied transfers.
func NewBlobAdapter(ctx context.Context, u string, opts ...Opt) (*blobadapter, error) {
	self := new(blobadapter)

	// Set the options
	if url, err := url.Parse(u); err != nil {
		return nil, err
	} else if opt, err := apply(url, opts...); err != nil {
		return nil, err
	} else {
		self.opt = opt
	}

	// Open the bucket
	var openURL *url.URL
	switch self.url.Scheme {
	case "file":
		if !path.IsAbs(self.url.Path) {
			return nil, fmt.Errorf("storage directory %q must be an absolute path", self.url.Path)
		}
		if self.name = self.url.Host; self.name == "" {
			self.name = path.Base(self.url.Path)
		}
		openURL = &url.URL{Scheme: "file", Path: path.Clean(self.url.Path), RawQuery: "create_dir=true"}
		if self.publicURL == "" {
			self.publicURL = "/uploads"
		}
	case "mem":
		if !types.IsIdentifier(self.url.Host) {
			return nil, fmt.Errorf("bucket name %q must be a valid identifier", self.url.Host)
		}
		self.name = self.url.Host
		openURL = &url.URL{Scheme: "mem"}
		if self.publicURL == "" {
			self.publicURL = "mem://" + self.name
		}
	default:
		return nil, fmt.Errorf("unsupported blob scheme %q", self.url.Scheme)
	}
	if bucket, err := blob.OpenBucket(ctx, openURL.String()); err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	} else {
		self.bucket = bucket
	}

	// Return success
	return self, nil
}

// Close the adapter
func (b *blobadapter) Close() error {
	var result error
	if b.bucket != nil {
		result = errors.Join(result, b.bucket.Close())
		b.bucket = nil
	}

	// Return any errors
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the name of the backend
func (b *blobadapter) Name() string {
	return b.name
}

// CanPresign always returns false for file:// and mem:// buckets
func (b *blobadapter) CanPresign() bool {
	return false
}

// FileURL returns the public URL of key
func (b *blobadapter) FileURL(key string) string {
	return b.publicURL + "/" + url.PathEscape(key)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// blobErr maps a go-cloud blob error onto the upload error kinds
func blobErr(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return videoframe.ErrTransfer.Withf("%q: %v", key, err)
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return videoframe.ErrNotFound.Withf("File not found: %q", key)
	case gcerrors.Unimplemented:
		return videoframe.ErrCapabilityUnsupported.Withf("operation not supported by backend for %q", key)
	case gcerrors.InvalidArgument:
		return videoframe.ErrValidation.Withf("invalid argument for %q: %v", key, err)
	case gcerrors.Canceled, gcerrors.DeadlineExceeded:
		return videoframe.ErrTransfer.Withf("%q: %v", key, err)
	default:
		return videoframe.ErrTransfer.Withf("blob operation failed for %q: %v", key, strings.TrimSpace(err.Error()))
	}
}
