package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	// Packages
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// UploadFile performs a multipart upload with one part in flight at a time.
// Processing events are emitted while each part is read into the buffer,
// and an uploading event after each part is accepted. The multipart upload
// is aborted on any failure, or when iteration stops early.
func (s *s3adapter) UploadFile(ctx context.Context, req UploadFileRequest) iter.Seq2[schema.ProgressEvent, error] {
	return once(func(yield func(schema.ProgressEvent, error) bool) {
		if err := ValidKey(req.Key); err != nil {
			yield(schema.ProgressEvent{}, err)
			return
		}
		key := s.objectKey(req.Key)

		// Create a multipart uploader
		uploader, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:             types.StringPtr(s.bucket),
			Key:                types.StringPtr(key),
			ContentType:        optString(req.ContentType),
			ContentDisposition: types.StringPtr(fmt.Sprintf("inline; filename=%q", req.Key)),
		})
		if err != nil {
			yield(schema.ProgressEvent{}, s3Err(err, req.Key))
			return
		}

		// Abort runs even when ctx is already canceled
		abort := func() error {
			_, err := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
				Bucket:   types.StringPtr(s.bucket),
				Key:      types.StringPtr(key),
				UploadId: uploader.UploadId,
			})
			return err
		}

		// Read the body through the progress reader, one part at a time
		body := newProgressReader(req.Body, req.Size, func(read, total int64) bool {
			return yield(schema.NewProgressEvent(req.UploadID, schema.PhaseProcessing, read, total), nil)
		})
		var completedParts []s3types.CompletedPart
		var partNumber int32
		var size int64
		buf := make([]byte, s.partSize)
		for {
			partNumber++
			part, n, err := s.uploadPart(ctx, body, key, types.PtrString(uploader.UploadId), partNumber, buf)
			if errors.Is(err, errStopped) {
				abort()
				return
			} else if err != nil && !errors.Is(err, io.EOF) {
				err = videoframe.ErrTransfer.Withf("part %d of %q: %v", partNumber, req.Key, errors.Join(err, abort()))
				yield(schema.ProgressEvent{}, err)
				return
			}
			if part != nil {
				completedParts = append(completedParts, *part)
				size += int64(n)
				total := max(req.Size, size)
				if !yield(schema.NewProgressEvent(req.UploadID, schema.PhaseUploading, size, total), nil) {
					abort()
					return
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
		}

		// Complete the multipart upload
		if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   types.StringPtr(s.bucket),
			Key:      types.StringPtr(key),
			UploadId: uploader.UploadId,
			MultipartUpload: &s3types.CompletedMultipartUpload{
				Parts: completedParts,
			},
		}); err != nil {
			yield(schema.ProgressEvent{}, errors.Join(s3Err(err, req.Key), abort()))
			return
		}

		// Terminal event
		yield(schema.NewCompleteEvent(req.UploadID, size), nil)
	})
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// uploadPart reads up to len(buf) bytes and uploads them as one part. It
// returns io.EOF with the last part. An empty body is uploaded as a single
// empty part, since a multipart upload needs at least one.
func (s *s3adapter) uploadPart(ctx context.Context, r io.Reader, key, uploadId string, partNumber int32, buf []byte) (*s3types.CompletedPart, int, error) {
	// Read until the buffer is full or EOF
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}

	// Translate the error to EOF
	if err != nil {
		err = io.EOF
	}

	// Nothing more to send
	if n == 0 && partNumber > 1 {
		return nil, 0, io.EOF
	}

	// Upload the part
	uploadResult, err2 := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     types.StringPtr(s.bucket),
		Key:        types.StringPtr(key),
		UploadId:   types.StringPtr(uploadId),
		Body:       bytes.NewReader(buf[:n]),
		PartNumber: types.Int32Ptr(partNumber),
	})
	if err2 != nil {
		return nil, 0, err2
	}

	// Return the completed part
	return &s3types.CompletedPart{
		ETag:       uploadResult.ETag,
		PartNumber: types.Int32Ptr(partNumber),
	}, n, err
}
