package httpclient_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	// Packages
	httpclient "github.com/michealrm/video-submission-frame/pkg/httpclient"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func Test_CreateUpload(t *testing.T) {
	assert := assert.New(t)
	c, mgr := newTestServer(t, nil)
	ctx := context.Background()

	data := bytes.Repeat([]byte{9}, 200*1024)
	var written, total int64
	response, err := c.CreateUpload(ctx, httpclient.UploadRequest{
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		Progress: func(w, t int64) {
			written, total = w, t
		},
	})
	require.NoError(t, err)
	assert.True(response.Success)
	assert.True(strings.HasSuffix(response.File.Key, "-clip.mp4"))
	assert.Equal(int64(len(data)), written)
	assert.Equal(int64(len(data)), total)

	// Follow to the end
	var events []schema.ProgressEvent
	require.NoError(t, c.Progress(ctx, response.UploadID, func(evt schema.ProgressEvent) error {
		events = append(events, evt)
		return nil
	}))
	require.NotEmpty(t, events)
	assert.Equal(schema.PhaseConnected, events[0].Phase)
	last := events[len(events)-1]
	assert.True(last.Terminal())
	assert.Equal(100, last.Percentage)

	session, err := c.Session(ctx, response.UploadID)
	require.NoError(t, err)
	assert.Equal(schema.StateCompleted, session.State)

	// Read it back
	var buf bytes.Buffer
	obj, err := c.Download(ctx, response.File.Key, &buf)
	require.NoError(t, err)
	assert.Equal(data, buf.Bytes())
	assert.Equal(int64(len(data)), obj.ContentLength)
	assert.Equal(response.File.Key, obj.Key)

	// The in-memory bucket cannot sign
	_, err = c.DownloadURL(ctx, response.File.Key)
	assert.Error(err)

	// Delete twice
	for range 2 {
		deleted, err := c.DeleteUpload(ctx, response.File.Key)
		require.NoError(t, err)
		assert.True(deleted.Success)
	}
	_, err = c.Download(ctx, response.File.Key, &buf)
	assert.Error(err)
	_, err = mgr.GetFile(ctx, response.File.Key)
	assert.Error(err)
}

func Test_CreateUpload_invalidType(t *testing.T) {
	c, _ := newTestServer(t, nil)

	_, err := c.CreateUpload(context.Background(), httpclient.UploadRequest{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("hello"),
	})
	assert.Error(t, err)
}

func Test_CreateUpload_noBody(t *testing.T) {
	c, _ := newTestServer(t, nil)

	_, err := c.CreateUpload(context.Background(), httpclient.UploadRequest{Filename: "clip.mp4"})
	assert.Error(t, err)
}

func Test_Presign_unsupported(t *testing.T) {
	c, _ := newTestServer(t, nil)

	_, err := c.Presign(context.Background(), schema.PresignRequest{Filename: "clip.mp4", ContentType: "video/mp4"})
	assert.Error(t, err)
}

func Test_PutPresigned(t *testing.T) {
	assert := assert.New(t)
	backend := newMemStorage(t)
	c, _ := newTestServer(t, presignAdapter{Adapter: backend})
	storageSrv := newStorageServer(t, backend, nil)
	ctx := context.Background()

	data := bytes.Repeat([]byte{3}, 100*1024)
	var calls int
	err := c.PutPresigned(ctx, storageSrv.URL+"/1700000000000-direct.mp4", "video/mp4", bytes.NewReader(data), int64(len(data)), func(written, total int64) {
		calls++
		assert.Equal(int64(len(data)), total)
	})
	require.NoError(t, err)
	assert.Positive(calls)

	obj, err := backend.GetFile(ctx, "1700000000000-direct.mp4")
	require.NoError(t, err)
	assert.Equal(data, obj.Data)
}

func Test_PutPresigned_rejected(t *testing.T) {
	c, _ := newTestServer(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "SignatureDoesNotMatch", http.StatusForbidden)
	}))
	defer srv.Close()

	err := c.PutPresigned(context.Background(), srv.URL+"/key", "video/mp4", strings.NewReader("video"), 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "SignatureDoesNotMatch")
}

func Test_CompleteUpload(t *testing.T) {
	assert := assert.New(t)
	backend := newMemStorage(t)
	storageSrv := newStorageServer(t, backend, nil)
	c, _ := newTestServer(t, presignAdapter{Adapter: backend, endpoint: storageSrv.URL})
	ctx := context.Background()

	presigned, err := c.Presign(ctx, schema.PresignRequest{Filename: "direct.mp4", ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.True(presigned.Success)
	assert.Equal(storageSrv.URL+"/"+presigned.Key, presigned.URL)

	require.NoError(t, c.PutPresigned(ctx, presigned.URL, "video/mp4", strings.NewReader("direct video"), 12, nil))
	response, err := c.CompleteUpload(ctx, presigned.UploadID)
	require.NoError(t, err)
	assert.True(response.Success)
	assert.Equal(schema.StateCompleted, response.Session.State)
	assert.Equal(schema.ModeDirect, response.Session.Mode)
	assert.Equal(int64(12), response.Session.BytesTotal)
}

func Test_ContentTypeFor(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	write := func(name, data string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
		return path
	}

	for name, want := range map[string]string{
		"a.mp4":  "video/mp4",
		"b.MOV":  "video/quicktime",
		"c.webm": "video/webm",
		"d.m4v":  "video/x-m4v",
	} {
		ct, err := httpclient.ContentTypeFor(write(name, "data"))
		assert.NoError(err)
		assert.Equal(want, ct, name)
	}

	// Sniffed when the extension is unknown
	ct, err := httpclient.ContentTypeFor(write("notes.unknownext", "just some text\n"))
	assert.NoError(err)
	assert.Equal("text/plain", ct)

	_, err = httpclient.ContentTypeFor(filepath.Join(dir, "missing.unknownext"))
	assert.Error(err)
}

func Test_Download_notFound(t *testing.T) {
	c, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var buf bytes.Buffer
	_, err := c.Download(ctx, "1700000000000-missing.mp4", &buf)
	assert.Error(t, err)
}
