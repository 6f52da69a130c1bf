package schema

import (
	"io"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// StorageObject is an object resident in a storage backend, addressed by key.
// Data is only populated by buffered retrieval.
type StorageObject struct {
	Key           string    `json:"key"`
	ContentType   string    `json:"contentType,omitempty"`
	ContentLength int64     `json:"contentLength"`
	ModTime       time.Time `json:"modtime,omitzero"`
	Filename      string    `json:"filename,omitempty"`
	Data          []byte    `json:"-"`
}

// ObjectStream is a streamed retrieval of an object. The caller must close
// the stream.
type ObjectStream struct {
	StorageObject
	Stream io.ReadCloser `json:"-"`
}

// FileRef identifies a durable object and where it can be fetched from.
type FileRef struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// PresignedURL is a time-limited write credential for a single key.
type PresignedURL struct {
	URL     string    `json:"url"`
	Key     string    `json:"key"`
	Bucket  string    `json:"bucket,omitempty"`
	Method  string    `json:"method,omitempty"`
	Expires time.Time `json:"expires,omitzero"`
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (o StorageObject) String() string {
	return types.Stringify(o)
}

func (f FileRef) String() string {
	return types.Stringify(f)
}

func (p PresignedURL) String() string {
	return types.Stringify(p)
}
