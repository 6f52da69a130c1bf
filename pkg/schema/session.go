package schema

import (
	"slices"
	"strings"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// State of an upload session.
type State string

// Mode is the transfer mode of an upload session.
type Mode string

// Session is a snapshot of one logical upload.
type Session struct {
	UploadID         string    `json:"uploadId"`
	Key              string    `json:"key,omitempty"`
	Filename         string    `json:"filename,omitempty"`
	ContentType      string    `json:"contentType,omitempty"`
	Mode             Mode      `json:"mode"`
	State            State     `json:"state"`
	BytesTotal       int64     `json:"bytesTotal"`
	BytesTransferred int64     `json:"bytesTransferred"`
	Duration         float64   `json:"duration,omitempty"` // seconds, once probed
	URL              string    `json:"url,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	LastProgressAt   time.Time `json:"lastProgressAt,omitzero"`
}

// Capabilities describes what the storage deployment accepts. It is
// resolved once at startup.
type Capabilities struct {
	AllowedMimeTypes   []string `json:"allowedMimeTypes"`
	MaxFileSize        int64    `json:"maxFileSize"`
	MaxDurationSeconds int      `json:"maxDurationSeconds"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StateCreated          State = "CREATED"
	StateValidating       State = "VALIDATING"
	StateAwaitingTransfer State = "AWAITING_TRANSFER"
	StateTransferring     State = "TRANSFERRING"
	StateCompleted        State = "COMPLETED"
	StateCanceled         State = "CANCELED"
	StateFailed           State = "FAILED"
)

const (
	// ModeProxied routes bytes through the server, which stages and then
	// transfers them to the backend.
	ModeProxied Mode = "proxied"

	// ModeDirect has the client write to a presigned URL.
	ModeDirect Mode = "direct"
)

const (
	DefaultMaxFileSize        = 100 * 1024 * 1024
	DefaultMaxDurationSeconds = 180
)

var (
	// DefaultMimeTypes are the video types accepted when none are configured.
	DefaultMimeTypes = []string{"video/mp4", "video/quicktime", "video/webm"}

	// transitions lists the forward edges of the session graph. CANCELED
	// and FAILED are reachable from every non-terminal state.
	transitions = map[State][]State{
		StateCreated:          {StateValidating},
		StateValidating:       {StateAwaitingTransfer},
		StateAwaitingTransfer: {StateTransferring},
		StateTransferring:     {StateCompleted},
	}
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Terminal reports whether no transitions leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// CanTransition reports whether the session graph has an edge from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateCanceled || next == StateFailed {
		return true
	}
	return slices.Contains(transitions[s], next)
}

// Allowed reports whether the content type is in the allow-list. Parameters
// such as codecs are ignored.
func (c Capabilities) Allowed(contentType string) bool {
	mimetype, _, _ := strings.Cut(contentType, ";")
	mimetype = strings.ToLower(strings.TrimSpace(mimetype))
	if mimetype == "" {
		return false
	}
	return slices.Contains(c.AllowedMimeTypes, mimetype)
}

// MaxDuration returns the duration limit, or zero when there is none.
func (c Capabilities) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s Session) String() string {
	return types.Stringify(s)
}

func (c Capabilities) String() string {
	return types.Stringify(c)
}
