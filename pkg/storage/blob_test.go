package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////
// HELPERS

func newMemAdapter(t *testing.T) *blobadapter {
	t.Helper()
	b, err := NewBlobAdapter(context.Background(), "mem://testbucket")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func uploadRequest(key string, data []byte) UploadFileRequest {
	return UploadFileRequest{
		UploadID:    "upload-1",
		Key:         key,
		ContentType: "video/mp4",
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
	}
}

////////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_New_Scheme(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	a, err := New(ctx, "mem://videos")
	assert.NoError(err)
	assert.Equal("videos", a.Name())
	assert.False(a.CanPresign())
	assert.NoError(a.Close())

	dir := t.TempDir()
	a, err = New(ctx, "file://"+dir)
	assert.NoError(err)
	assert.Equal(filepath.Base(dir), a.Name())
	assert.NoError(a.Close())

	_, err = New(ctx, "ftp://host/path")
	assert.Error(err)

	_, err = New(ctx, "file://relative")
	assert.Error(err)
}

func Test_Blob_UploadFile_Events(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	data := bytes.Repeat([]byte("x"), 3*int(progressChunk)+10)
	var events []schema.ProgressEvent
	for evt, err := range b.UploadFile(ctx, uploadRequest("1-a.mp4", data)) {
		assert.NoError(err)
		events = append(events, evt)
	}

	// processing(0), three uploading events, terminal
	if assert.Len(events, 5) {
		assert.Equal(schema.PhaseProcessing, events[0].Phase)
		for _, evt := range events[1:4] {
			assert.Equal(schema.PhaseUploading, evt.Phase)
			assert.False(evt.Terminal())
			assert.Less(evt.Percentage, 100)
		}
		last := events[4]
		assert.True(last.Terminal())
		assert.Equal(int64(len(data)), last.Processed)
		assert.Equal("upload-1", last.UploadID)
	}

	// Exactly one terminal event
	var terminal int
	for _, evt := range events {
		if evt.Terminal() {
			terminal++
		}
	}
	assert.Equal(1, terminal)

	// Object is retrievable
	obj, err := b.GetFile(ctx, "1-a.mp4")
	assert.NoError(err)
	assert.Equal(data, obj.Data)
	assert.Equal("video/mp4", obj.ContentType)
	assert.Equal(int64(len(data)), obj.ContentLength)
}

func Test_Blob_UploadFile_Lazy(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	// Nothing is written until the sequence is ranged over
	seq := b.UploadFile(ctx, uploadRequest("2-lazy.mp4", []byte("data")))
	_, err := b.Stat(ctx, "2-lazy.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))

	for _, err := range seq {
		assert.NoError(err)
	}
	_, err = b.Stat(ctx, "2-lazy.mp4")
	assert.NoError(err)

	// A second range yields an error and does not repeat the transfer
	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	if assert.Len(errs, 1) {
		assert.True(errors.Is(errs[0], videoframe.ErrTransfer))
	}
}

func Test_Blob_UploadFile_StopEarly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	data := bytes.Repeat([]byte("y"), 4*int(progressChunk))
	var n int
	for evt, err := range b.UploadFile(ctx, uploadRequest("3-stop.mp4", data)) {
		assert.NoError(err)
		if evt.Phase == schema.PhaseUploading {
			n++
			break
		}
	}
	assert.Equal(1, n)

	// Abandoned transfer leaves nothing behind
	_, err := b.Stat(ctx, "3-stop.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))
}

func Test_Blob_UploadFile_ReadError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	req := uploadRequest("4-broken.mp4", nil)
	req.Body = io.MultiReader(strings.NewReader("partial"), iotestErrReader{})
	req.Size = 100

	var gotErr error
	for _, err := range b.UploadFile(ctx, req) {
		if err != nil {
			gotErr = err
		}
	}
	assert.True(errors.Is(gotErr, videoframe.ErrTransfer))

	_, err := b.Stat(ctx, "4-broken.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))
}

func Test_Blob_Upload_Helper(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	var published []schema.ProgressEvent
	ref, terminal, err := Upload(ctx, b, uploadRequest("5-helper.mp4", []byte("hello")), func(evt schema.ProgressEvent) {
		published = append(published, evt)
	})
	assert.NoError(err)
	assert.Equal("5-helper.mp4", ref.Key)
	assert.Equal("mem://testbucket/5-helper.mp4", ref.URL)
	if assert.NotNil(terminal) {
		assert.True(terminal.Terminal())
	}

	// The terminal event is returned, not published
	for _, evt := range published {
		assert.False(evt.Terminal())
	}
}

func Test_Blob_Delete(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newMemAdapter(t)

	_, _, err := Upload(ctx, b, uploadRequest("6-del.mp4", []byte("bye")), nil)
	assert.NoError(err)

	assert.NoError(b.DeleteFile(ctx, "6-del.mp4"))

	// Second delete reports not found
	err = b.DeleteFile(ctx, "6-del.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))

	// Get after delete reports not found
	_, err = b.GetFile(ctx, "6-del.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))
	_, err = b.StreamObject(ctx, "6-del.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound))

	// Invalid keys are rejected before reaching the bucket
	err = b.DeleteFile(ctx, "../escape")
	assert.True(errors.Is(err, videoframe.ErrValidation))
}

func Test_Blob_Presign_Unsupported(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	for _, b := range []*blobadapter{newMemAdapter(t), newFileAdapter(t)} {
		_, err := b.GenerateUploadURL(ctx, "7-x.mp4", "video/mp4", time.Hour)
		assert.True(errors.Is(err, videoframe.ErrCapabilityUnsupported), err)
		_, err = b.GetDownloadURL(ctx, "7-x.mp4", time.Hour)
		assert.True(errors.Is(err, videoframe.ErrCapabilityUnsupported), err)
	}
}

func Test_Blob_File(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	b := newFileAdapter(t)

	_, _, err := Upload(ctx, b, uploadRequest("8-file.mp4", []byte("on disk")), nil)
	assert.NoError(err)
	assert.Equal("/uploads/8-file.mp4", b.FileURL("8-file.mp4"))

	// The object lands in the directory
	data, err := os.ReadFile(filepath.Join(b.url.Path, "8-file.mp4"))
	assert.NoError(err)
	assert.Equal("on disk", string(data))

	stream, err := b.StreamObject(ctx, "8-file.mp4")
	if assert.NoError(err) {
		defer stream.Stream.Close()
		body, err := io.ReadAll(stream.Stream)
		assert.NoError(err)
		assert.Equal("on disk", string(body))
		assert.Equal(int64(7), stream.ContentLength)
		assert.Equal("8-file.mp4", stream.Filename)
	}
}

func Test_Blob_PublicURL(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBlobAdapter(context.Background(), "mem://testbucket", WithPublicURL("https://cdn.example.com/videos/"))
	assert.NoError(err)
	defer b.Close()
	assert.Equal("https://cdn.example.com/videos/9-a%20b.mp4", b.FileURL("9-a b.mp4"))
}

////////////////////////////////////////////////////////////////////////////////
// HELPERS

func newFileAdapter(t *testing.T) *blobadapter {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	b, err := NewBlobAdapter(context.Background(), "file://"+dir)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}
