package storage

import (
	"context"
	"io"
	"net/http"
	"time"

	// Packages
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Stat returns the object metadata. The object is not downloaded.
func (s *s3adapter) Stat(ctx context.Context, key string) (*schema.StorageObject, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: types.StringPtr(s.bucket),
		Key:    types.StringPtr(s.objectKey(key)),
	})
	if err != nil {
		return nil, s3Err(err, key)
	}
	obj := &schema.StorageObject{
		Key:           key,
		ContentType:   types.PtrString(result.ContentType),
		ContentLength: types.PtrInt64(result.ContentLength),
		Filename:      key,
	}
	if result.LastModified != nil {
		obj.ModTime = *result.LastModified
	}
	return obj, nil
}

// StreamObject returns the object content as a stream
func (s *s3adapter) StreamObject(ctx context.Context, key string) (*schema.ObjectStream, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: types.StringPtr(s.bucket),
		Key:    types.StringPtr(s.objectKey(key)),
	})
	if err != nil {
		return nil, s3Err(err, key)
	}
	stream := &schema.ObjectStream{
		StorageObject: schema.StorageObject{
			Key:           key,
			ContentType:   types.PtrString(result.ContentType),
			ContentLength: types.PtrInt64(result.ContentLength),
			Filename:      key,
		},
		Stream: result.Body,
	}
	if result.LastModified != nil {
		stream.ModTime = *result.LastModified
	}
	return stream, nil
}

// GetFile returns the object with its content in memory
func (s *s3adapter) GetFile(ctx context.Context, key string) (*schema.StorageObject, error) {
	stream, err := s.StreamObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer stream.Stream.Close()
	data, err := io.ReadAll(stream.Stream)
	if err != nil {
		return nil, s3Err(err, key)
	}
	obj := stream.StorageObject
	obj.Data = data
	obj.ContentLength = int64(len(data))
	return &obj, nil
}

// DeleteFile deletes the object. S3 reports success for absent keys, so
// existence is checked first.
func (s *s3adapter) DeleteFile(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: types.StringPtr(s.bucket),
		Key:    types.StringPtr(s.objectKey(key)),
	}); err != nil {
		return s3Err(err, key)
	}

	// Return success
	return nil
}

// GenerateUploadURL presigns a PUT of key with the given content type
func (s *s3adapter) GenerateUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (*schema.PresignedURL, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      types.StringPtr(s.bucket),
		Key:         types.StringPtr(s.objectKey(key)),
		ContentType: optString(contentType),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, s3Err(err, key)
	}
	return &schema.PresignedURL{
		URL:     req.URL,
		Key:     key,
		Bucket:  s.bucket,
		Method:  http.MethodPut,
		Expires: time.Now().Add(expires),
	}, nil
}

// GetDownloadURL presigns a GET of key
func (s *s3adapter) GetDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: types.StringPtr(s.bucket),
		Key:    types.StringPtr(s.objectKey(key)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", s3Err(err, key)
	}
	return req.URL, nil
}
