package manager

import (
	"context"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	storage "github.com/michealrm/video-submission-frame/pkg/storage"
	otel "github.com/mutablelogic/go-client/pkg/otel"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	canceledMessage = "Upload canceled"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// CancelUpload cancels the session which owns key, if any, and removes the
// object from storage. It is idempotent: a key with no session or no
// object is not an error. Only a malformed key is rejected. The canceled
// session is kept until the retention period ends.
//
// A running transfer is stopped first so that it cannot recreate the
// object after the delete. If ctx ends before the transfer has stopped,
// the delete happens in the background once it has.
func (manager *Manager) CancelUpload(ctx context.Context, key string) (err error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("CancelUpload"))
	defer func() { endFunc(err) }()

	if err := storage.ValidKey(key); err != nil {
		return err
	}

	// Cancel the session
	manager.lock.RLock()
	s := manager.keys[key]
	manager.lock.RUnlock()

	var done chan struct{}
	if s != nil {
		s.Lock()
		if !s.State.Terminal() {
			s.transition(schema.StateCanceled)
			evt := schema.NewFailedEvent(s.UploadID, nil)
			evt.Message = canceledMessage
			manager.publish(s, evt)
			manager.metrics.ended(&s.Session)
			manager.log.Info().Str("uploadId", s.UploadID).Str("key", key).Msg("upload canceled")
		}
		if s.cancel != nil {
			s.cancel()
		}
		done = s.done
		s.Unlock()
	}

	// Wait for the transfer to stop
	if done != nil {
		select {
		case <-done:
		case <-child.Done():
			manager.group.Go(func() error {
				<-done
				manager.deleteObject(manager.ctx, key)
				return nil
			})
			return nil
		}
	}

	// Remove the object
	manager.deleteObject(child, key)

	// Return success
	return nil
}
