package httpclient

import (
	"fmt"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	zerolog "github.com/rs/zerolog"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// UploaderOpt is a functional option for NewUploader.
type UploaderOpt func(*uploaderOpts) error

type uploaderOpts struct {
	mode           schema.Mode
	prober         probe.Prober
	progress       func(schema.ProgressEvent)
	logger         zerolog.Logger
	liveness       time.Duration
	reconnects     uint64
	reconnectDelay time.Duration
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultLiveness is how long the progress stream may go without an
	// event before it is reconnected
	DefaultLiveness = 10 * time.Second

	// DefaultReconnects is how many times a dropped progress stream is
	// reconnected before the upload fails
	DefaultReconnects = 3

	// DefaultReconnectDelay is the fixed delay before each reconnect
	DefaultReconnectDelay = time.Second
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithMode sets the transfer mode. By default the mode advertised by the
// server is used.
func WithMode(mode schema.Mode) UploaderOpt {
	return func(o *uploaderOpts) error {
		switch mode {
		case "", schema.ModeDirect, schema.ModeProxied:
			o.mode = mode
			return nil
		default:
			return videoframe.ErrValidation.Withf("invalid mode %q", mode)
		}
	}
}

// WithProber sets how local files are inspected before upload.
func WithProber(prober probe.Prober) UploaderOpt {
	return func(o *uploaderOpts) error {
		if prober == nil {
			return videoframe.ErrValidation.With("prober is required")
		}
		o.prober = prober
		return nil
	}
}

// WithProgress sets a callback for progress events. In direct mode events
// are generated from the bytes sent, and in proxied mode they are read from
// the progress stream, preceded by processing events as the file is sent
// to the server.
func WithProgress(fn func(schema.ProgressEvent)) UploaderOpt {
	return func(o *uploaderOpts) error {
		o.progress = fn
		return nil
	}
}

func WithLogger(logger zerolog.Logger) UploaderOpt {
	return func(o *uploaderOpts) error {
		o.logger = logger
		return nil
	}
}

// WithLiveness sets how long the progress stream may go without an event
// before it is reconnected. Keepalive comments are not events.
func WithLiveness(d time.Duration) UploaderOpt {
	return func(o *uploaderOpts) error {
		if d <= 0 {
			return fmt.Errorf("invalid liveness: %v", d)
		}
		o.liveness = d
		return nil
	}
}

// WithReconnect sets how many times, and after what fixed delay, the
// progress stream is reconnected.
func WithReconnect(retries uint64, delay time.Duration) UploaderOpt {
	return func(o *uploaderOpts) error {
		if delay < 0 {
			return fmt.Errorf("invalid reconnect delay: %v", delay)
		}
		o.reconnects = retries
		o.reconnectDelay = delay
		return nil
	}
}
