package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	blob "gocloud.dev/blob"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// UploadFile streams the body into the bucket. A processing event opens the
// sequence, uploading events follow every 64 KiB, and the object becomes
// visible only when the terminal event is produced. A failed or abandoned
// transfer leaves nothing behind.
func (b *blobadapter) UploadFile(ctx context.Context, req UploadFileRequest) iter.Seq2[schema.ProgressEvent, error] {
	return once(func(yield func(schema.ProgressEvent, error) bool) {
		if err := ValidKey(req.Key); err != nil {
			yield(schema.ProgressEvent{}, err)
			return
		}
		if !yield(schema.NewProgressEvent(req.UploadID, schema.PhaseProcessing, 0, req.Size), nil) {
			return
		}

		// Canceling the writer context before Close discards the write
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		w, err := b.bucket.NewWriter(wctx, req.Key, &blob.WriterOptions{
			ContentType:        req.ContentType,
			ContentDisposition: fmt.Sprintf("inline; filename=%q", req.Key),
		})
		if err != nil {
			yield(schema.ProgressEvent{}, blobErr(err, req.Key))
			return
		}

		// Copy through the progress reader
		r := newProgressReader(req.Body, req.Size, func(read, total int64) bool {
			return yield(schema.NewProgressEvent(req.UploadID, schema.PhaseUploading, read, total), nil)
		})
		n, err := io.Copy(w, r)
		if errors.Is(err, errStopped) {
			cancel()
			w.Close()
			return
		} else if err != nil {
			cancel()
			w.Close()
			yield(schema.ProgressEvent{}, videoframe.ErrTransfer.Withf("%q: %v", req.Key, err))
			return
		} else if err := w.Close(); err != nil {
			yield(schema.ProgressEvent{}, blobErr(err, req.Key))
			return
		}

		// Terminal event
		yield(schema.NewCompleteEvent(req.UploadID, n), nil)
	})
}
