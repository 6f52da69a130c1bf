// Package probe inspects staged video files, sniffing their content type
// and reading their duration.
package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	// Packages
	mp4 "github.com/abema/go-mp4"
	mimetype "github.com/gabriel-vasile/mimetype"
	videoframe "github.com/michealrm/video-submission-frame"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Prober inspects a file on local disk
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// Info is what could be learned about a file
type Info struct {
	MimeType string        `json:"mimeType"`
	Duration time.Duration `json:"duration"` // zero when undetermined

	// Types lists MimeType followed by its more general types, for example
	// video/x-m4v then video/mp4.
	Types []string `json:"-"`
}

type prober struct {
	ffprobe string
}

type Opt func(*prober) error

var _ Prober = (*prober)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a prober which reads the duration of ISO media files (mp4,
// quicktime) from the movie header, and falls back to ffprobe for other
// formats when it is on the PATH.
func New(opts ...Opt) (*prober, error) {
	self := new(prober)
	if path, err := exec.LookPath("ffprobe"); err == nil {
		self.ffprobe = path
	}
	for _, opt := range opts {
		if err := opt(self); err != nil {
			return nil, err
		}
	}
	return self, nil
}

// WithFFProbe sets the path of the ffprobe binary. An empty path disables
// the fallback.
func WithFFProbe(path string) Opt {
	return func(p *prober) error {
		if path == "" {
			p.ffprobe = ""
			return nil
		}
		resolved, err := exec.LookPath(path)
		if err != nil {
			return fmt.Errorf("ffprobe: %w", err)
		}
		p.ffprobe = resolved
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Probe returns the sniffed content type and the duration of the file at
// path. A file whose duration cannot be read is not an error, and Duration
// is zero.
func (p *prober) Probe(ctx context.Context, path string) (*Info, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, err
	}
	info := &Info{MimeType: baseType(mime.String())}
	for m := mime; m != nil; m = m.Parent() {
		info.Types = append(info.Types, baseType(m.String()))
	}

	// ISO base media
	if isISOMedia(mime) {
		if d, err := mp4Duration(path); err == nil && d > 0 {
			info.Duration = d
			return info, nil
		}
	}

	// Fall back to ffprobe
	if p.ffprobe != "" {
		if d, err := p.ffprobeDuration(ctx, path); err == nil && d > 0 {
			info.Duration = d
		}
	}

	// Return success
	return info, nil
}

// FormatDuration returns d as minutes and seconds, for example "3:05".
// Fractions of a second are dropped.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// CheckDuration returns ErrDurationExceeded when d is over limit. A zero
// limit disables the check, and a zero d means the duration is unknown,
// which is rejected when there is a limit.
func CheckDuration(d, limit time.Duration) error {
	switch {
	case limit <= 0:
		return nil
	case d <= 0:
		return videoframe.ErrValidation.With("Could not determine video duration")
	case d > limit:
		return videoframe.ErrDurationExceeded.Withf("Video duration (%s) exceeds maximum allowed (%s)", FormatDuration(d), FormatDuration(limit))
	default:
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func isISOMedia(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("video/mp4") || m.Is("video/quicktime") {
			return true
		}
	}
	return false
}

// mp4Duration reads moov/mvhd
func mp4Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	boxes, err := mp4.ExtractBoxWithPayload(f, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeMvhd()})
	if err != nil {
		return 0, err
	} else if len(boxes) == 0 {
		return 0, fmt.Errorf("no movie header in %q", path)
	}
	mvhd, ok := boxes[0].Payload.(*mp4.Mvhd)
	if !ok || mvhd.Timescale == 0 {
		return 0, fmt.Errorf("invalid movie header in %q", path)
	}
	var units uint64
	if mvhd.GetVersion() == 0 {
		units = uint64(mvhd.DurationV0)
	} else {
		units = mvhd.DurationV1
	}
	return time.Duration(float64(units) / float64(mvhd.Timescale) * float64(time.Second)), nil
}

// ffprobeDuration runs ffprobe and parses the container duration in seconds
func (p *prober) ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, p.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func baseType(contentType string) string {
	mediatype, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediatype))
}
