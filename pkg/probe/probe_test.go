package probe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	// Packages
	mp4 "github.com/abema/go-mp4"
	videoframe "github.com/michealrm/video-submission-frame"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////
// HELPERS

// writeMovie writes a minimal ISO media file with the given brand and a
// movie header declaring the duration
func writeMovie(t *testing.T, brand string, duration time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := mp4.NewWriter(f)
	var major [4]byte
	copy(major[:], brand)

	_, err = w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeFtyp()})
	require.NoError(t, err)
	ftyp := &mp4.Ftyp{MajorBrand: major, MinorVersion: 0x200}
	ftyp.AddCompatibleBrand(major)
	_, err = mp4.Marshal(w, ftyp, mp4.Context{})
	require.NoError(t, err)
	_, err = w.EndBox()
	require.NoError(t, err)

	_, err = w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMoov()})
	require.NoError(t, err)
	_, err = w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMvhd()})
	require.NoError(t, err)
	_, err = mp4.Marshal(w, &mp4.Mvhd{
		Timescale:   1000,
		DurationV0:  uint32(duration / time.Millisecond),
		Rate:        0x00010000,
		Volume:      0x0100,
		NextTrackID: 1,
	}, mp4.Context{})
	require.NoError(t, err)
	_, err = w.EndBox()
	require.NoError(t, err)
	_, err = w.EndBox()
	require.NoError(t, err)

	return path
}

func newProber(t *testing.T) probe.Prober {
	t.Helper()
	p, err := probe.New(probe.WithFFProbe(""))
	require.NoError(t, err)
	return p
}

////////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_Probe_MP4(t *testing.T) {
	assert := assert.New(t)
	path := writeMovie(t, "isom", 95*time.Second)

	info, err := newProber(t).Probe(context.Background(), path)
	if assert.NoError(err) {
		assert.Equal("video/mp4", info.MimeType)
		assert.Equal(95*time.Second, info.Duration)
	}
}

func Test_Probe_QuickTime(t *testing.T) {
	assert := assert.New(t)
	path := writeMovie(t, "qt  ", 200*time.Second)

	info, err := newProber(t).Probe(context.Background(), path)
	if assert.NoError(err) {
		assert.Equal("video/quicktime", info.MimeType)
		assert.Equal(200*time.Second, info.Duration)
	}
}

func Test_Probe_NotVideo(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a video\n"), 0o600))

	// Renamed text files sniff as text and have no duration
	info, err := newProber(t).Probe(context.Background(), path)
	if assert.NoError(err) {
		assert.Equal("text/plain", info.MimeType)
		assert.Zero(info.Duration)
	}

	_, err = newProber(t).Probe(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(err)
}

func Test_FormatDuration(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("0:00", probe.FormatDuration(0))
	assert.Equal("0:59", probe.FormatDuration(59900*time.Millisecond))
	assert.Equal("3:00", probe.FormatDuration(180*time.Second))
	assert.Equal("3:05", probe.FormatDuration(185*time.Second))
	assert.Equal("61:01", probe.FormatDuration(3661*time.Second))
}

func Test_CheckDuration(t *testing.T) {
	assert := assert.New(t)
	limit := 180 * time.Second

	assert.NoError(probe.CheckDuration(180*time.Second, limit))
	assert.NoError(probe.CheckDuration(0, 0))
	assert.NoError(probe.CheckDuration(time.Hour, 0))

	err := probe.CheckDuration(200*time.Second, limit)
	assert.True(errors.Is(err, videoframe.ErrDurationExceeded))
	assert.True(errors.Is(err, videoframe.ErrValidation))
	assert.Contains(err.Error(), "Video duration (3:20) exceeds maximum allowed (3:00)")

	err = probe.CheckDuration(0, limit)
	assert.True(errors.Is(err, videoframe.ErrValidation))
	assert.False(errors.Is(err, videoframe.ErrDurationExceeded))
}

func Test_WithFFProbe_Missing(t *testing.T) {
	_, err := probe.New(probe.WithFFProbe("/nonexistent/ffprobe"))
	assert.Error(t, err)
}
