package httphandler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	// Packages
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

///////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_upload(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t, nil)
	mux := serveMux(t, mgr)

	data := bytes.Repeat([]byte{7}, 4096)
	response := uploadVideo(t, mux, data)
	assert.True(response.Success)
	assert.NotEmpty(response.UploadID)
	assert.True(strings.HasSuffix(response.File.Key, "-clip.mp4"))
	assert.Equal("mem://videos/"+response.File.Key, response.File.URL)

	// The transfer finishes in the background
	waitCompleted(t, mgr, response.UploadID)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/session/"+response.UploadID, nil))
	require.Equal(t, http.StatusOK, rw.Code)
	var session schema.Session
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&session))
	assert.Equal(schema.StateCompleted, session.State)
	assert.Equal(int64(len(data)), session.BytesTransferred)
}

func Test_upload_noFile(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func Test_upload_invalidType(t *testing.T) {
	assert := assert.New(t)
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, newVideoRequest(t, "/upload", "notes.txt", "text/plain", []byte("hello")))
	assert.Equal(http.StatusBadRequest, rw.Code)
	assert.Contains(rw.Body.String(), "Only video files are allowed")
}

func Test_upload_durationExceeded(t *testing.T) {
	assert := assert.New(t)
	mux := serveMux(t, newTestManager(t, nil, manager.WithProber(stubProber(4*time.Minute))))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, newVideoRequest(t, "/upload", "long.mp4", "video/mp4", []byte("movie")))
	assert.Equal(http.StatusBadRequest, rw.Code)
	assert.Contains(rw.Body.String(), "exceeds maximum allowed")
	assert.Contains(rw.Body.String(), "4:00")
}

func Test_upload_tooLarge(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil, manager.WithMaxFileSize(16)))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, newVideoRequest(t, "/upload", "big.mp4", "video/mp4", bytes.Repeat([]byte{1}, 17)))
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func Test_upload_replace(t *testing.T) {
	assert := assert.New(t)
	adapter := newGatedAdapter(t)
	mgr := newTestManager(t, adapter)
	mux := serveMux(t, mgr)

	first := uploadVideo(t, mux, []byte("first"))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, newVideoRequest(t, "/upload?replace="+first.UploadID, "second.mp4", "video/mp4", []byte("second")))
	require.Equal(t, http.StatusOK, rw.Code)

	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/session/"+first.UploadID, nil))
	require.Equal(t, http.StatusOK, rw.Code)
	var replaced schema.Session
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&replaced))
	assert.Equal(schema.StateCanceled, replaced.State)
	adapter.open()
}

func Test_upload_methodNotAllowed(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rw.Code)
}

func Test_presign_unsupported(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/presign", strings.NewReader(`{"filename":"a.mp4","contentType":"video/mp4"}`))
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotImplemented, rw.Code)
}

func Test_presign_invalidType(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/presign", strings.NewReader(`{"filename":"a.txt","contentType":"text/plain"}`))
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func Test_complete_unknown(t *testing.T) {
	mux := serveMux(t, newTestManager(t, nil))

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/upload/complete/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func Test_cancel(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t, nil)
	mux := serveMux(t, mgr)

	response := uploadVideo(t, mux, []byte("video"))
	waitCompleted(t, mgr, response.UploadID)

	// Deleting twice succeeds both times
	for range 2 {
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodDelete, "/upload/"+response.File.Key, nil))
		assert.Equal(http.StatusOK, rw.Code)

		var out schema.DeleteResponse
		require.NoError(t, json.NewDecoder(rw.Body).Decode(&out))
		assert.True(out.Success)
	}

	// The object has gone
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/download/"+response.File.Key, nil))
	assert.Equal(http.StatusNotFound, rw.Code)

	// A key which never existed
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodDelete, "/upload/1700000000000-never.mp4", nil))
	assert.Equal(http.StatusOK, rw.Code)

	// A malformed key
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodDelete, "/upload/.hidden", nil))
	assert.Equal(http.StatusBadRequest, rw.Code)
}

func Test_cancel_escapedKey(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t, nil)
	mux := serveMux(t, mgr)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, newVideoRequest(t, "/upload", "my clip.mp4", "video/mp4", []byte("video")))
	require.Equal(t, http.StatusOK, rw.Code)
	var response schema.UploadResponse
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&response))
	waitCompleted(t, mgr, response.UploadID)

	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodDelete, "/upload/"+strings.ReplaceAll(response.File.Key, "_", "%5F"), nil))
	assert.Equal(http.StatusOK, rw.Code)

	_, err := mgr.GetFile(t.Context(), response.File.Key)
	assert.Error(err)
}
