package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	// Packages
	mimetype "github.com/gabriel-vasile/mimetype"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	client "github.com/mutablelogic/go-client"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// UploadRequest is a proxied upload of one video.
type UploadRequest struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64  // zero when unknown
	Replace     string // upload id to cancel first

	// Progress is called as the body is sent, with the bytes written so far
	Progress func(written, total int64)
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// videoTypes maps video file extensions which the system MIME database may
// not know about to their canonical type.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".qt":   "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".3gp":  "video/3gpp",
	".ogv":  "video/ogg",
}

// progressInterval is the number of bytes between progress callbacks
const progressInterval = 64 * 1024

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ContentTypeFor returns the content type of a local file, from its
// extension when known and otherwise by sniffing its contents.
func ContentTypeFor(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct, nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mediatype, _, err := mime.ParseMediaType(ct); err == nil {
			return mediatype, nil
		}
	}
	sniffed, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	mediatype, _, err := mime.ParseMediaType(sniffed.String())
	if err != nil {
		return types.ContentTypeBinary, nil
	}
	return mediatype, nil
}

// CreateUpload sends a video through the server as a streaming multipart
// POST. The response is returned once the server has validated the file, and
// the transfer to storage continues in the background.
func (c *Client) CreateUpload(ctx context.Context, req UploadRequest) (*schema.UploadResponse, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("CreateUpload: missing body")
	}

	// Stamp Content-Length so the part size is known to the server
	h := textproto.MIMEHeader{}
	if req.Size > 0 {
		h.Set(types.ContentLengthHeader, strconv.FormatInt(req.Size, 10))
	}
	body := io.NopCloser(req.Body)
	if req.Progress != nil {
		body = newProgressReadCloser(body, req.Size, req.Progress)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = types.ContentTypeBinary
	}
	upload := struct {
		Video []types.File `json:"video"`
	}{
		Video: []types.File{{
			Path:        filepath.Base(req.Filename),
			Body:        body,
			ContentType: contentType,
			Header:      h,
		}},
	}
	payload, err := client.NewStreamingMultipartRequest(&upload, types.ContentTypeJSON)
	if err != nil {
		return nil, err
	}

	// Perform the request
	opts := []client.RequestOpt{client.OptPath("upload"), client.OptNoTimeout()}
	if req.Replace != "" {
		opts = append(opts, client.OptQuery(url.Values{"replace": []string{req.Replace}}))
	}
	var response schema.UploadResponse
	if err := c.DoWithContext(ctx, payload, &response, opts...); err != nil {
		return nil, err
	}

	// Return the response
	return &response, nil
}

// Presign creates a direct upload and returns the URL to write the video to.
func (c *Client) Presign(ctx context.Context, req schema.PresignRequest) (*schema.PresignResponse, error) {
	payload, err := client.NewJSONRequest(req)
	if err != nil {
		return nil, err
	}
	var response schema.PresignResponse
	if err := c.DoWithContext(ctx, payload, &response, client.OptPath("presign")); err != nil {
		return nil, err
	}
	return &response, nil
}

// PutPresigned writes a video to a presigned URL. The request goes straight
// to the storage backend and is not sent through the API.
func (c *Client) PutPresigned(ctx context.Context, url, contentType string, body io.Reader, size int64, progress func(written, total int64)) error {
	rc := io.NopCloser(body)
	if progress != nil {
		rc = newProgressReadCloser(rc, size, progress)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, rc)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set(types.ContentTypeHeader, contentType)
	}
	response, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("PutPresigned: %s: %s", response.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// CompleteUpload reports that a direct upload has been written. The server
// validates the object and returns the completed session.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string) (*schema.CompleteResponse, error) {
	var response schema.CompleteResponse
	if err := c.DoWithContext(ctx,
		client.NewRequestEx(http.MethodPost, types.ContentTypeJSON),
		&response,
		client.OptPath("upload", "complete", uploadID),
		client.OptNoTimeout(),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

// DeleteUpload cancels any upload for a key and deletes its object. It
// succeeds when the object does not exist.
func (c *Client) DeleteUpload(ctx context.Context, key string) (*schema.DeleteResponse, error) {
	var response schema.DeleteResponse
	if err := c.DoWithContext(ctx,
		client.NewRequestEx(http.MethodDelete, types.ContentTypeJSON),
		&response,
		client.OptPath("upload", key),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE HELPERS

type progressReadCloser struct {
	r        io.ReadCloser
	total    int64
	written  int64
	lastEmit int64
	cb       func(written, total int64)
}

func newProgressReadCloser(r io.ReadCloser, total int64, cb func(written, total int64)) io.ReadCloser {
	return &progressReadCloser{
		r:     r,
		total: total,
		cb:    cb,
	}
}

func (r *progressReadCloser) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.written += int64(n)
		if r.written-r.lastEmit >= progressInterval || (r.total > 0 && r.written >= r.total) {
			r.lastEmit = r.written
			r.cb(r.written, r.total)
		}
	}
	return n, err
}

func (r *progressReadCloser) Close() error {
	return r.r.Close()
}
