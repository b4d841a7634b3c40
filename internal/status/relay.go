package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/fhe-autopay/pkg/instance"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
)

const (
	defaultPublishTimeout = 15 * time.Second
	relayBuffer           = 1024
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// Relay forwards terminal statuses to a Pub/Sub topic. Publish acks are
// awaited off the feed so a slow topic does not stall it; statuses beyond the
// relay's buffer during a burst are still dropped by the channel.
type Relay struct {
	channel   *Channel
	publisher publisher
	logg      *logger.Logger
	timeout   time.Duration
	source    string
}

// NewRelay wires a relay over the Pub/Sub publisher for the status topic.
func NewRelay(channel *Channel, pub *gcppubsub.Publisher, logg *logger.Logger) (*Relay, error) {
	if pub == nil {
		return nil, errors.New("status publisher required")
	}
	return newRelay(channel, &gcpPublisher{Publisher: pub}, logg)
}

func newRelay(channel *Channel, pub publisher, logg *logger.Logger) (*Relay, error) {
	if channel == nil {
		return nil, errors.New("status channel required")
	}
	if pub == nil {
		return nil, errors.New("status publisher required")
	}
	return &Relay{
		channel:   channel,
		publisher: pub,
		logg:      logg,
		timeout:   defaultPublishTimeout,
		source:    instance.GetID(),
	}, nil
}

// Run forwards statuses until ctx is done. Publish failures are logged and
// do not stop the relay.
func (r *Relay) Run(ctx context.Context) error {
	feed, unsubscribe := r.channel.SubscribeBuffered(relayBuffer)
	defer unsubscribe()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-feed:
			if !ok {
				return nil
			}
			if !s.Phase.IsTerminal() {
				continue
			}
			result, err := r.send(ctx, s)
			if err != nil {
				r.logFailure(ctx, s, err)
				continue
			}
			inflight.Add(1)
			go func(s Status) {
				defer inflight.Done()
				if err := r.await(ctx, result); err != nil {
					r.logFailure(ctx, s, err)
				}
			}(s)
		}
	}
}

func (r *Relay) forward(ctx context.Context, s Status) error {
	result, err := r.send(ctx, s)
	if err != nil {
		return err
	}
	return r.await(ctx, result)
}

func (r *Relay) send(ctx context.Context, s Status) (publishResult, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"phase":     string(s.Phase),
			"operation": string(s.Operation),
			"record_id": s.RecordID,
			"at":        s.At.Format(time.RFC3339Nano),
			"instance":  r.source,
		},
	}

	result := r.publisher.Publish(ctx, msg)
	if result == nil {
		return nil, errors.New("publisher returned nil result")
	}
	return result, nil
}

func (r *Relay) await(ctx context.Context, result publishResult) error {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

func (r *Relay) logFailure(ctx context.Context, s Status, err error) {
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"operation": string(s.Operation),
		"record_id": s.RecordID,
		"phase":     string(s.Phase),
	})
	r.logg.Error(logCtx, "status.relay.publish_failed", err)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
