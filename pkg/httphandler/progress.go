package httphandler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	// Packages
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	openapi "github.com/mutablelogic/go-server/pkg/openapi/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

// KeepaliveInterval is how often a comment line is written to an idle
// progress stream, so that proxies do not close it.
var KeepaliveInterval = 5 * time.Second

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: /upload/progress/{uploadId}
// GET streams progress events for an upload as Server-Sent Events. Each
// event is a "data:" line carrying a JSON ProgressEvent. The first event is
// always the synthetic "connected" event. After the terminal event the
// stream stays open, with keepalives, until the client closes it.
func ProgressHandler(mgr *manager.Manager) (string, http.HandlerFunc, *openapi.PathItem) {
	return "/upload/progress/{uploadId}", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = progress(w, r, mgr)
			default:
				methodNotAllowed(w, r)
			}
		}, types.Ptr(openapi.PathItem{
			Get: &openapi.Operation{
				Description: "Stream upload progress as Server-Sent Events",
			},
		})
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func progress(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) error {
	uploadID := r.PathValue("uploadId")

	// Subscribe before anything is written, so that errors have a status
	sub, session, err := mgr.Subscribe(r.Context(), uploadID)
	if err != nil {
		return writeError(w, err)
	}
	defer sub.Close()

	// Commit the stream
	w.Header().Set(types.ContentTypeHeader, types.ContentTypeTextStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	// Announce the subscription
	if err := writeEvent(w, rc, schema.NewConnectedEvent(uploadID)); err != nil {
		return err
	}

	// A session which has already ended will publish nothing more
	events := sub.Events()
	if session != nil && session.State.Terminal() {
		if err := writeEvent(w, rc, terminalEvent(session)); err != nil {
			return err
		}
		sub.Close()
		events = nil
	}

	// Relay until the terminal event, then hold the stream open until the
	// client disconnects
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		case evt, ok := <-events:
			if !ok {
				// The bus ended the subscription without a terminal event,
				// so report the session's outcome if it has one
				events = nil
				if ended, err := mgr.Session(uploadID); err == nil && ended.State.Terminal() {
					if err := writeEvent(w, rc, terminalEvent(ended)); err != nil {
						return err
					}
					continue
				}
				return nil
			}
			if err := writeEvent(w, rc, evt); err != nil {
				return err
			}
			if evt.Terminal() {
				sub.Close()
				events = nil
			}
		}
	}
}

// writeEvent writes one "data:" frame and flushes it
func writeEvent(w io.Writer, rc *http.ResponseController, evt schema.ProgressEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}

// terminalEvent reconstructs the final event of an ended session
func terminalEvent(session *schema.Session) schema.ProgressEvent {
	if session.State == schema.StateCompleted {
		return schema.NewCompleteEvent(session.UploadID, session.BytesTransferred)
	}
	evt := schema.ProgressEvent{
		UploadID: session.UploadID,
		Phase:    schema.PhaseFailed,
		Message:  session.Error,
	}
	if session.State == schema.StateCanceled {
		evt.Message = "Upload canceled"
	}
	return evt
}
