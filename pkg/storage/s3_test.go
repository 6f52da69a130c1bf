package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	credentials "github.com/aws/aws-sdk-go-v2/credentials"
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////
// FAKE S3

// fakeS3 answers the handful of path-style S3 calls the adapter makes
type fakeS3 struct {
	sync.Mutex
	objects   map[string][]byte
	parts     []int
	aborted   bool
	completed bool
	failPart  string // partNumber which returns 403
	inflight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := strings.TrimPrefix(r.URL.Path, "/")
	w.Header().Set("Content-Type", "application/xml")

	switch {
	case r.Method == http.MethodPost && q.Has("uploads"):
		fmt.Fprintf(w, `<InitiateMultipartUploadResult><Bucket>bucket</Bucket><Key>%s</Key><UploadId>upload-abc</UploadId></InitiateMultipartUploadResult>`, path)
	case r.Method == http.MethodPut && q.Has("partNumber"):
		n := f.inflight.Add(1)
		defer f.inflight.Add(-1)
		if n > f.maxFlight.Load() {
			f.maxFlight.Store(n)
		}
		io.Copy(io.Discard, r.Body)
		if q.Get("partNumber") == f.failPart {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		var part int
		fmt.Sscan(q.Get("partNumber"), &part)
		f.Lock()
		f.parts = append(f.parts, part)
		f.Unlock()
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, part))
	case r.Method == http.MethodPost && q.Has("uploadId"):
		io.Copy(io.Discard, r.Body)
		f.Lock()
		f.completed = true
		f.objects[path] = []byte("assembled")
		f.Unlock()
		fmt.Fprintf(w, `<CompleteMultipartUploadResult><Bucket>bucket</Bucket><Key>%s</Key><ETag>"etag"</ETag></CompleteMultipartUploadResult>`, path)
	case r.Method == http.MethodDelete && q.Has("uploadId"):
		f.Lock()
		f.aborted = true
		f.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodHead, r.Method == http.MethodGet:
		f.Lock()
		data, exists := f.objects[path]
		f.Unlock()
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case r.Method == http.MethodDelete:
		f.Lock()
		delete(f.objects, path)
		f.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func testAWSConfig() aws.Config {
	return aws.Config{
		Region:           "us-east-1",
		Credentials:      credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		RetryMaxAttempts: 1,
	}
}

func newFakeS3Adapter(t *testing.T, srv *httptest.Server, opts ...Opt) *s3adapter {
	t.Helper()
	opts = append([]Opt{WithAWSConfig(testAWSConfig()), WithEndpoint(srv.URL)}, opts...)
	s, err := NewS3Adapter(context.Background(), "s3://bucket/videos", opts...)
	require.NoError(t, err)
	return s
}

////////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_S3_New(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s, err := NewS3Adapter(ctx, "s3://my-bucket?region=eu-west-2", WithAWSConfig(testAWSConfig()))
	if assert.NoError(err) {
		assert.Equal("my-bucket", s.Name())
		assert.True(s.CanPresign())
		assert.Equal("eu-west-2", s.region)
		assert.Equal("https://my-bucket.s3.eu-west-2.amazonaws.com/1-a.mp4", s.FileURL("1-a.mp4"))
	}

	_, err = NewS3Adapter(ctx, "s3:///nobucket", WithAWSConfig(testAWSConfig()))
	assert.Error(err)

	_, err = NewS3Adapter(ctx, "s3://bucket", WithEndpoint("ftp://localhost"))
	assert.Error(err)

	_, err = NewS3Adapter(ctx, "s3://bucket", WithCredentials("key", ""))
	assert.Error(err)
}

func Test_S3_FileURL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s, err := NewS3Adapter(ctx, "s3://bucket/videos", WithAWSConfig(testAWSConfig()), WithEndpoint("http://localhost:9000/"))
	if assert.NoError(err) {
		assert.Equal("http://localhost:9000/bucket/videos/1-a.mp4", s.FileURL("1-a.mp4"))
	}

	s, err = NewS3Adapter(ctx, "s3://bucket/videos", WithAWSConfig(testAWSConfig()), WithPublicURL("https://cdn.example.com"))
	if assert.NoError(err) {
		assert.Equal("https://cdn.example.com/1-a.mp4", s.FileURL("1-a.mp4"))
	}
}

func Test_S3_Presign(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s, err := NewS3Adapter(ctx, "s3://bucket/videos", WithAWSConfig(testAWSConfig()))
	require.NoError(t, err)

	// Presigning is computed locally, nothing is sent
	put, err := s.GenerateUploadURL(ctx, "1-clip.mp4", "video/mp4", time.Hour)
	if assert.NoError(err) {
		assert.Equal(http.MethodPut, put.Method)
		assert.Equal("1-clip.mp4", put.Key)
		assert.Equal("bucket", put.Bucket)
		assert.Contains(put.URL, "/videos/1-clip.mp4")
		assert.Contains(put.URL, "X-Amz-Expires=3600")
		assert.Contains(put.URL, "X-Amz-Signature=")
		assert.WithinDuration(time.Now().Add(time.Hour), put.Expires, time.Minute)
	}

	get, err := s.GetDownloadURL(ctx, "1-clip.mp4", time.Hour)
	if assert.NoError(err) {
		assert.Contains(get, "/videos/1-clip.mp4")
		assert.Contains(get, "X-Amz-Signature=")
	}

	_, err = s.GenerateUploadURL(ctx, "../x", "video/mp4", time.Hour)
	assert.True(errors.Is(err, videoframe.ErrValidation))
}

func Test_S3_UploadFile_Multipart(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake, srv := newFakeS3(t)
	s := newFakeS3Adapter(t, srv, WithPartSize(1024))

	data := []byte(strings.Repeat("z", 2500))
	var events []schema.ProgressEvent
	for evt, err := range s.UploadFile(ctx, uploadRequest("1-multi.mp4", data)) {
		assert.NoError(err)
		events = append(events, evt)
	}

	// Three parts, sent one at a time and in order
	assert.Equal([]int{1, 2, 3}, fake.parts)
	assert.Equal(int32(1), fake.maxFlight.Load())
	assert.True(fake.completed)
	assert.False(fake.aborted)

	// One uploading event per part, then the terminal event
	if assert.Len(events, 4) {
		assert.Equal(int64(1024), events[0].Processed)
		assert.Equal(int64(2048), events[1].Processed)
		assert.Equal(99, events[2].Percentage)
		assert.False(events[2].Terminal())
		assert.True(events[3].Terminal())
		assert.Equal(int64(2500), events[3].Processed)
	}

	// Object now exists under the prefix
	obj, err := s.Stat(ctx, "1-multi.mp4")
	if assert.NoError(err) {
		assert.Equal("video/mp4", obj.ContentType)
	}
}

func Test_S3_UploadFile_Empty(t *testing.T) {
	assert := assert.New(t)
	fake, srv := newFakeS3(t)
	s := newFakeS3Adapter(t, srv)

	_, terminal, err := Upload(context.Background(), s, uploadRequest("2-empty.mp4", nil), nil)
	assert.NoError(err)
	if assert.NotNil(terminal) {
		assert.Equal(100, terminal.Percentage)
	}
	assert.Equal([]int{1}, fake.parts)
}

func Test_S3_UploadFile_PartFails(t *testing.T) {
	assert := assert.New(t)
	fake, srv := newFakeS3(t)
	fake.failPart = "2"
	s := newFakeS3Adapter(t, srv, WithPartSize(1024))

	_, _, err := Upload(context.Background(), s, uploadRequest("3-fail.mp4", []byte(strings.Repeat("z", 4000))), nil)
	assert.True(errors.Is(err, videoframe.ErrTransfer), err)
	assert.True(fake.aborted)
	assert.False(fake.completed)
	assert.Equal([]int{1}, fake.parts)
}

func Test_S3_UploadFile_StopEarly(t *testing.T) {
	assert := assert.New(t)
	fake, srv := newFakeS3(t)
	s := newFakeS3Adapter(t, srv, WithPartSize(1024))

	for evt := range s.UploadFile(context.Background(), uploadRequest("4-stop.mp4", []byte(strings.Repeat("z", 4000)))) {
		if evt.Phase == schema.PhaseUploading {
			break
		}
	}
	assert.True(fake.aborted)
	assert.False(fake.completed)
}

func Test_S3_NotFound(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, srv := newFakeS3(t)
	s := newFakeS3Adapter(t, srv)

	_, err := s.Stat(ctx, "5-missing.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound), err)

	_, err = s.GetFile(ctx, "5-missing.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound), err)

	err = s.DeleteFile(ctx, "5-missing.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound), err)
}

func Test_S3_GetAndDelete(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake, srv := newFakeS3(t)
	fake.objects["bucket/videos/6-here.mp4"] = []byte("content")
	s := newFakeS3Adapter(t, srv)

	obj, err := s.GetFile(ctx, "6-here.mp4")
	if assert.NoError(err) {
		assert.Equal("content", string(obj.Data))
		assert.Equal("video/mp4", obj.ContentType)
	}

	assert.NoError(s.DeleteFile(ctx, "6-here.mp4"))
	err = s.DeleteFile(ctx, "6-here.mp4")
	assert.True(errors.Is(err, videoframe.ErrNotFound), err)
}
