package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	// Packages
	videoframe "github.com/michealrm/video-submission-frame"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	redis "github.com/redis/go-redis/v9"
	zerolog "github.com/rs/zerolog"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Redis is a bus shared between processes through Redis pub/sub. Terminal
// markers are kept as keys with a TTL so that every process honours them.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

type redissub struct {
	ps   *redis.PubSub
	ch   chan schema.ProgressEvent
	once sync.Once
	stop chan struct{}
}

var _ Bus = (*Redis)(nil)
var _ Subscription = (*redissub)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	redisPrefix      = "videoframe:progress:"
	redisPingTimeout = 3 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewRedis connects to the Redis server at url, for example
// "redis://localhost:6379/0", and checks it is reachable.
func NewRedis(ctx context.Context, url string, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, videoframe.ErrValidation.Withf("redis url: %v", err)
	}
	client := redis.NewClient(opts)

	// Check the connection
	pingctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingctx).Err(); err != nil {
		return nil, errors.Join(videoframe.ErrConnection.Withf("redis: %v", err), client.Close())
	}

	// Return success
	return &Redis{
		client: client,
		prefix: redisPrefix,
		ttl:    terminalTTL,
		log:    log.With().Str("bus", "redis").Logger(),
	}, nil
}

// Close the connection to the server
func (r *Redis) Close() error {
	return r.client.Close()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Publish the event on the upload's channel
func (r *Redis) Publish(ctx context.Context, evt schema.ProgressEvent) error {
	if evt.UploadID == "" {
		return videoframe.ErrValidation.With("progress event without upload id")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	// Drop events after the terminal event
	if evt.Terminal() {
		if set, err := r.client.SetNX(ctx, r.terminalKey(evt.UploadID), string(evt.Phase), r.ttl).Result(); err != nil {
			return videoframe.ErrConnection.Withf("redis: %v", err)
		} else if !set {
			return nil
		}
	} else if n, err := r.client.Exists(ctx, r.terminalKey(evt.UploadID)).Result(); err != nil {
		return videoframe.ErrConnection.Withf("redis: %v", err)
	} else if n > 0 {
		return nil
	}

	if err := r.client.Publish(ctx, r.channel(evt.UploadID), data).Err(); err != nil {
		return videoframe.ErrConnection.Withf("redis: %v", err)
	}
	return nil
}

// Subscribe to the upload's channel. The subscription is confirmed by the
// server before returning, so no event published afterwards is missed.
func (r *Redis) Subscribe(ctx context.Context, uploadID string) (Subscription, error) {
	if uploadID == "" {
		return nil, videoframe.ErrValidation.With("missing upload id")
	}
	ps := r.client.Subscribe(ctx, r.channel(uploadID))
	if _, err := ps.Receive(ctx); err != nil {
		return nil, errors.Join(videoframe.ErrConnection.Withf("redis: %v", err), ps.Close())
	}
	sub := &redissub{
		ps:   ps,
		ch:   make(chan schema.ProgressEvent, subscriberBuffer),
		stop: make(chan struct{}),
	}

	// Already terminal
	if n, err := r.client.Exists(ctx, r.terminalKey(uploadID)).Result(); err != nil {
		return nil, errors.Join(videoframe.ErrConnection.Withf("redis: %v", err), ps.Close())
	} else if n > 0 {
		close(sub.ch)
		sub.Close()
		return sub, nil
	}

	// Forward messages until the terminal event
	go func() {
		defer close(sub.ch)
		defer sub.Close()
		messages := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt schema.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed progress event")
					continue
				}
				sub.send(evt)
				if evt.Terminal() {
					return
				}
			}
		}
	}()

	// Return success
	return sub, nil
}

// Forget removes the terminal marker for uploadID
func (r *Redis) Forget(uploadID string) {
	if err := r.client.Del(context.Background(), r.terminalKey(uploadID)).Err(); err != nil {
		r.log.Warn().Err(err).Str("uploadId", uploadID).Msg("failed to remove terminal marker")
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (r *Redis) channel(uploadID string) string {
	return r.prefix + uploadID
}

func (r *Redis) terminalKey(uploadID string) string {
	return r.prefix + "terminal:" + uploadID
}

////////////////////////////////////////////////////////////////////////////////
// SUBSCRIPTION

func (s *redissub) Events() <-chan schema.ProgressEvent {
	return s.ch
}

func (s *redissub) Close() error {
	var result error
	s.once.Do(func() {
		close(s.stop)
		result = s.ps.Close()
	})
	return result
}

// send delivers evt, dropping the oldest pending event when the buffer is
// full. Only the forwarding goroutine sends.
func (s *redissub) send(evt schema.ProgressEvent) {
	for {
		select {
		case s.ch <- evt:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
