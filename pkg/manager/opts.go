package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	// Packages
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	progress "github.com/michealrm/video-submission-frame/pkg/progress"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	storage "github.com/michealrm/video-submission-frame/pkg/storage"
	zerolog "github.com/rs/zerolog"
	metric "go.opentelemetry.io/otel/metric"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for upload manager configuration.
type Opt func(*opts) error

type opts struct {
	tracer        trace.Tracer
	meter         metric.Meter
	log           zerolog.Logger
	storage       storage.Adapter
	bus           progress.Bus
	prober        probe.Prober
	caps          schema.Capabilities
	mode          schema.Mode
	stagingDir    string
	presignExpiry time.Duration
	retention     time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultPresignExpiry is the validity of presigned upload and download URLs.
	DefaultPresignExpiry = time.Hour

	// DefaultRetention is how long terminal sessions are kept for status queries.
	DefaultRetention = 15 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithTracer sets the tracer used for tracing operations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

// WithMeter sets the meter used for session and transfer counters.
func WithMeter(meter metric.Meter) Opt {
	return func(o *opts) error {
		o.meter = meter
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Opt {
	return func(o *opts) error {
		o.log = log
		return nil
	}
}

// WithStorage sets the storage adapter. The manager closes it on Close.
func WithStorage(adapter storage.Adapter) Opt {
	return func(o *opts) error {
		if adapter == nil {
			return fmt.Errorf("storage adapter is nil")
		}
		if o.storage != nil {
			return fmt.Errorf("storage already set to %q", o.storage.Name())
		}
		o.storage = adapter
		return nil
	}
}

// WithStorageURL creates the storage adapter from a URL (s3://, file://,
// mem://).
func WithStorageURL(ctx context.Context, url string, storageOpts ...storage.Opt) Opt {
	return func(o *opts) error {
		adapter, err := storage.New(ctx, url, storageOpts...)
		if err != nil {
			return err
		}
		if err := WithStorage(adapter)(o); err != nil {
			return errors.Join(err, adapter.Close())
		}
		return nil
	}
}

// WithBus sets the progress bus. The manager closes it on Close. When not
// set, an in-process bus is used.
func WithBus(bus progress.Bus) Opt {
	return func(o *opts) error {
		o.bus = bus
		return nil
	}
}

// WithProber sets the prober used on staged files.
func WithProber(prober probe.Prober) Opt {
	return func(o *opts) error {
		o.prober = prober
		return nil
	}
}

// WithAllowedTypes replaces the allow-list of video content types.
func WithAllowedTypes(types ...string) Opt {
	return func(o *opts) error {
		allowed := make([]string, 0, len(types))
		for _, t := range types {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				allowed = append(allowed, t)
			}
		}
		if len(allowed) == 0 {
			return fmt.Errorf("at least one allowed type is required")
		}
		o.caps.AllowedMimeTypes = allowed
		return nil
	}
}

// WithMaxFileSize sets the maximum accepted file size in bytes.
func WithMaxFileSize(size int64) Opt {
	return func(o *opts) error {
		if size <= 0 {
			return fmt.Errorf("max file size must be positive, got %d", size)
		}
		o.caps.MaxFileSize = size
		return nil
	}
}

// WithMaxDuration sets the maximum accepted video duration. Zero disables
// the check.
func WithMaxDuration(d time.Duration) Opt {
	return func(o *opts) error {
		if d < 0 {
			return fmt.Errorf("max duration must not be negative, got %v", d)
		}
		o.caps.MaxDurationSeconds = int(d / time.Second)
		return nil
	}
}

// WithMode forces the transfer mode advertised to clients. By default the
// mode is direct when the storage backend can presign, and proxied otherwise.
func WithMode(mode schema.Mode) Opt {
	return func(o *opts) error {
		switch mode {
		case schema.ModeDirect, schema.ModeProxied, "":
			o.mode = mode
			return nil
		default:
			return fmt.Errorf("unsupported mode %q", mode)
		}
	}
}

// WithStagingDir sets the directory for staged proxied uploads.
func WithStagingDir(dir string) Opt {
	return func(o *opts) error {
		if info, err := os.Stat(dir); err != nil {
			return err
		} else if !info.IsDir() {
			return fmt.Errorf("staging path %q is not a directory", dir)
		}
		o.stagingDir = dir
		return nil
	}
}

// WithPresignExpiry sets the validity of presigned URLs.
func WithPresignExpiry(d time.Duration) Opt {
	return func(o *opts) error {
		if d <= 0 {
			return fmt.Errorf("presign expiry must be positive, got %v", d)
		}
		o.presignExpiry = d
		return nil
	}
}

// WithRetention sets how long terminal sessions are kept in memory.
func WithRetention(d time.Duration) Opt {
	return func(o *opts) error {
		if d <= 0 {
			return fmt.Errorf("retention must be positive, got %v", d)
		}
		o.retention = d
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		log: zerolog.Nop(),
		caps: schema.Capabilities{
			AllowedMimeTypes:   schema.DefaultMimeTypes,
			MaxFileSize:        schema.DefaultMaxFileSize,
			MaxDurationSeconds: schema.DefaultMaxDurationSeconds,
		},
		stagingDir:    os.TempDir(),
		presignExpiry: DefaultPresignExpiry,
		retention:     DefaultRetention,
	}

	// Apply options
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return opts{}, err
		}
	}

	// Return success
	return o, nil
}
