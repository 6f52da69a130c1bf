package schema

import (
	"math"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Phase of a progress event.
type Phase string

// ProgressEvent reports transfer progress for one upload. Events are
// transient and are never replayed to late subscribers.
type ProgressEvent struct {
	UploadID   string `json:"uploadId"`
	Phase      Phase  `json:"phase"`
	Processed  int64  `json:"processed"`
	Total      int64  `json:"total"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// PhaseConnected is sent by the relay when a subscriber attaches, before
	// any transfer activity is observed.
	PhaseConnected Phase = "connected"

	// PhaseProcessing is sent while the staged file is read into the
	// outbound buffer.
	PhaseProcessing Phase = "processing"

	// PhaseUploading is sent as parts reach the backend. An uploading event
	// at 100% is the terminal success event.
	PhaseUploading Phase = "uploading"

	// PhaseFailed is the terminal failure event. Message carries the reason.
	PhaseFailed Phase = "failed"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewProgressEvent returns an event with the percentage computed from
// processed and total. Non-terminal uploading events never report 100%.
func NewProgressEvent(uploadID string, phase Phase, processed, total int64) ProgressEvent {
	pct := Percent(processed, total)
	if phase == PhaseUploading && pct >= 100 {
		pct = 99
	}
	return ProgressEvent{
		UploadID:   uploadID,
		Phase:      phase,
		Processed:  processed,
		Total:      total,
		Percentage: pct,
	}
}

// NewCompleteEvent returns the terminal success event.
func NewCompleteEvent(uploadID string, total int64) ProgressEvent {
	return ProgressEvent{
		UploadID:   uploadID,
		Phase:      PhaseUploading,
		Processed:  total,
		Total:      total,
		Percentage: 100,
	}
}

// NewFailedEvent returns the terminal failure event.
func NewFailedEvent(uploadID string, err error) ProgressEvent {
	evt := ProgressEvent{
		UploadID: uploadID,
		Phase:    PhaseFailed,
	}
	if err != nil {
		evt.Message = err.Error()
	}
	return evt
}

// NewConnectedEvent returns the synthetic event sent on subscription.
func NewConnectedEvent(uploadID string) ProgressEvent {
	return ProgressEvent{
		UploadID: uploadID,
		Phase:    PhaseConnected,
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Terminal reports whether no further events follow this one.
func (e ProgressEvent) Terminal() bool {
	return e.Phase == PhaseFailed || (e.Phase == PhaseUploading && e.Percentage == 100)
}

// Percent returns processed as a rounded percentage of total, clamped to
// the range 0 to 100. An unknown total yields zero.
func Percent(processed, total int64) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return int(math.Round(float64(processed) * 100 / float64(total)))
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (e ProgressEvent) String() string {
	return types.Stringify(e)
}
