package httpclient

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	client "github.com/mutablelogic/go-client"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// downloadUnmarshaler copies the response body to w and captures the object
// metadata from the response headers.
type downloadUnmarshaler struct {
	w   io.Writer
	obj schema.StorageObject
}

var _ client.Unmarshaler = (*downloadUnmarshaler)(nil)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Download writes the content of the object for a key to w. When the backend
// can presign, the server redirects to the backend and the content is read
// from there.
func (c *Client) Download(ctx context.Context, key string, w io.Writer) (*schema.StorageObject, error) {
	u := &downloadUnmarshaler{w: w, obj: schema.StorageObject{Key: key}}
	if err := c.DoWithContext(ctx,
		client.NewRequest(),
		u,
		client.OptPath("download", key),
		client.OptNoTimeout(),
	); err != nil {
		return nil, err
	}
	return &u.obj, nil
}

// DownloadURL returns a time-limited URL to read the object for a key.
func (c *Client) DownloadURL(ctx context.Context, key string) (*schema.DownloadURLResponse, error) {
	var response schema.DownloadURLResponse
	if err := c.DoWithContext(ctx, client.NewRequest(), &response, client.OptPath("download", key, "url")); err != nil {
		return nil, err
	}
	return &response, nil
}

///////////////////////////////////////////////////////////////////////////////
// INTERFACE IMPLEMENTATION

func (d *downloadUnmarshaler) Unmarshal(header http.Header, reader io.Reader) error {
	d.obj.ContentType = header.Get(types.ContentTypeHeader)
	if n, err := strconv.ParseInt(header.Get(types.ContentLengthHeader), 10, 64); err == nil {
		d.obj.ContentLength = n
	}
	if _, params, err := mime.ParseMediaType(header.Get(types.ContentDispositonHeader)); err == nil {
		d.obj.Filename = params["filename"]
	}
	if modtime, err := http.ParseTime(header.Get("Last-Modified")); err == nil {
		d.obj.ModTime = modtime
	}

	// Copy the body
	written, err := io.Copy(d.w, reader)
	if d.obj.ContentLength == 0 {
		d.obj.ContentLength = written
	}
	return err
}
