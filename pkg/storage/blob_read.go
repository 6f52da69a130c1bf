package storage

import (
	"context"
	"io"
	"net/http"
	"time"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	blob "gocloud.dev/blob"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Stat returns object metadata
func (b *blobadapter) Stat(ctx context.Context, key string) (*schema.StorageObject, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, blobErr(err, key)
	}
	return attrsToObject(key, attrs), nil
}

// StreamObject returns the object content as a stream
func (b *blobadapter) StreamObject(ctx context.Context, key string) (*schema.ObjectStream, error) {
	obj, err := b.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, blobErr(err, key)
	}
	return &schema.ObjectStream{StorageObject: *obj, Stream: r}, nil
}

// GetFile returns the object with its content in memory
func (b *blobadapter) GetFile(ctx context.Context, key string) (*schema.StorageObject, error) {
	stream, err := b.StreamObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer stream.Stream.Close()
	data, err := io.ReadAll(stream.Stream)
	if err != nil {
		return nil, blobErr(err, key)
	}
	obj := stream.StorageObject
	obj.Data = data
	obj.ContentLength = int64(len(data))
	return &obj, nil
}

// DeleteFile removes the object
func (b *blobadapter) DeleteFile(ctx context.Context, key string) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	return blobErr(b.bucket.Delete(ctx, key), key)
}

// GenerateUploadURL asks the bucket to sign a PUT. Buckets opened without a
// URL signer report the capability as unsupported.
func (b *blobadapter) GenerateUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (*schema.PresignedURL, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	url, err := b.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{
		Method:      http.MethodPut,
		ContentType: contentType,
		Expiry:      expires,
	})
	if err != nil {
		return nil, blobErr(err, key)
	}
	return &schema.PresignedURL{
		URL:     url,
		Key:     key,
		Method:  http.MethodPut,
		Expires: time.Now().Add(expires),
	}, nil
}

// GetDownloadURL asks the bucket to sign a GET
func (b *blobadapter) GetDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	url, err := b.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{
		Method: http.MethodGet,
		Expiry: expires,
	})
	if err != nil {
		return "", blobErr(err, key)
	}
	return url, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func attrsToObject(key string, attrs *blob.Attributes) *schema.StorageObject {
	return &schema.StorageObject{
		Key:           key,
		ContentType:   attrs.ContentType,
		ContentLength: attrs.Size,
		ModTime:       attrs.ModTime,
		Filename:      key,
	}
}
