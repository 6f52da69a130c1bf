package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// ResponseError is returned when the progress stream cannot be opened.
type ResponseError struct {
	Status int
	Detail string
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Progress reads the progress stream for an upload, calling fn for each
// event including the initial connected event. It returns nil after the
// terminal event, io.ErrUnexpectedEOF when the server closes the stream
// first, or the error returned by fn.
func (c *Client) Progress(ctx context.Context, uploadID string, fn func(schema.ProgressEvent) error) error {
	return c.progress(ctx, uploadID, nil, fn)
}

func (e *ResponseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("progress stream: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("progress stream: %d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// progress opens the stream and reads events. alive, when not nil, is called
// for every event received. Keepalive comments do not count.
func (c *Client) progress(ctx context.Context, uploadID string, alive func(), fn func(schema.ProgressEvent) error) error {
	u, err := url.JoinPath(c.endpoint, "upload", "progress", uploadID)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", types.ContentTypeTextStream)
	req.Header.Set("Cache-Control", "no-cache")

	// Connect
	response, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return &ResponseError{Status: response.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	// Read events
	return readEvents(response.Body, alive, fn)
}

// readEvents parses a text/event-stream body. Events are dispatched on a
// blank line, data lines are joined with newlines, and fields other than
// data are ignored.
func readEvents(r io.Reader, alive func(), fn func(schema.ProgressEvent) error) error {
	scanner := bufio.NewScanner(r)
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			var evt schema.ProgressEvent
			if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &evt); err != nil {
				return fmt.Errorf("progress stream: %w", err)
			}
			data = data[:0]
			if alive != nil {
				alive()
			}
			if err := fn(evt); err != nil {
				return err
			}
			if evt.Terminal() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// Comment
		default:
			field, value, _ := strings.Cut(line, ":")
			if field == "data" {
				data = append(data, strings.TrimPrefix(value, " "))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
