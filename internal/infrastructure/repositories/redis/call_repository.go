package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/utils"
)

const (
	callKeyPrefix  = "peercall:call:"
	callsSetKey    = "peercall:calls"
	callChanPrefix = "peercall:events:call:"
	candChanPrefix = "peercall:events:candidates:"
	callsChanKey   = "peercall:events:calls"

	// deletedSentinel marks a tombstone on the document channel. Document
	// payloads are always JSON objects, so it cannot collide.
	deletedSentinel = "__deleted__"

	updateRetries = 8
)

// CallRepository is the Redis rendition of the signaling store. Documents
// are JSON values, candidates append-only lists, and change notification
// rides pub/sub. Pub/sub is at-most-once per connection but the subscriber
// replays current state on attach, which restores the at-least-once shape
// consumers are written for.
type CallRepository struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewCallRepository(client *redis.Client, logger *zap.SugaredLogger) *CallRepository {
	return &CallRepository{client: client, logger: logger}
}

func callKey(id domain.CallID) string { return callKeyPrefix + string(id) }

func candidatesKey(id domain.CallID) string { return callKeyPrefix + string(id) + ":candidates" }

func callChannel(id domain.CallID) string { return callChanPrefix + string(id) }

func candChannel(id domain.CallID) string { return candChanPrefix + string(id) }

func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) (domain.CallID, error) {
	doc := call.Clone()
	doc.ID = domain.CallID(utils.NewDocumentID())
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, callKey(doc.ID), data, 0)
	pipe.SAdd(ctx, callsSetKey, string(doc.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create call in Redis: %w", err)
	}

	r.publish(ctx, callsChanKey, data)
	r.publish(ctx, callChannel(doc.ID), data)
	return doc.ID, nil
}

func (r *CallRepository) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	data, err := r.client.Get(ctx, callKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call from Redis: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal([]byte(data), &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}

// UpdateCall merges the patch under WATCH so concurrent field merges from
// both peers interleave without losing writes.
func (r *CallRepository) UpdateCall(ctx context.Context, id domain.CallID, patch domain.CallPatch) error {
	key := callKey(id)

	var updated []byte
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return domain.ErrCallNotFound
		}
		if err != nil {
			return err
		}

		updated, err = applyPatchToDocument([]byte(data), patch)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < updateRetries; i++ {
		err = r.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		if err == domain.ErrCallNotFound {
			return err
		}
		return fmt.Errorf("failed to update call in Redis: %w", err)
	}

	r.publish(ctx, callChannel(id), updated)
	return nil
}

func (r *CallRepository) DeleteCall(ctx context.Context, id domain.CallID) error {
	pipe := r.client.TxPipeline()
	deleted := pipe.Del(ctx, callKey(id))
	pipe.Del(ctx, candidatesKey(id))
	pipe.SRem(ctx, callsSetKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete call from Redis: %w", err)
	}

	// Deleting an absent document is not an error, and publishing the
	// tombstone twice is harmless.
	if deleted.Val() > 0 {
		r.publish(ctx, callChannel(id), []byte(deletedSentinel))
	}
	return nil
}

func (r *CallRepository) AddCandidate(ctx context.Context, callID domain.CallID, cand *domain.Candidate) error {
	record := *cand
	if record.ID == "" {
		record.ID = domain.CandidateID(utils.NewCandidateID())
	}
	record.CallID = callID

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	if err := r.client.RPush(ctx, candidatesKey(callID), data).Err(); err != nil {
		return fmt.Errorf("failed to append candidate in Redis: %w", err)
	}

	r.publish(ctx, candChannel(callID), data)
	return nil
}

func (r *CallRepository) WatchCall(ctx context.Context, id domain.CallID, onChange func(*domain.Call)) (ports.CancelFunc, error) {
	sub := r.client.Subscribe(ctx, callChannel(id))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to call channel: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer sub.Close()

		// Deliver the state current at subscription time. Subscribing
		// before reading means an update racing the read is redelivered,
		// never missed; consumers dedupe by content.
		call, err := r.GetCall(watchCtx, id)
		switch err {
		case nil:
			onChange(call)
		case domain.ErrCallNotFound:
			onChange(nil)
		default:
			r.logger.Warnw("initial call read failed", "call_id", id, "error", err)
		}

		ch := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				call, err := decodeCallEvent(msg.Payload)
				if err != nil {
					r.logger.Warnw("malformed call event", "call_id", id, "error", err)
					continue
				}
				onChange(call)
			}
		}
	}()

	return func() { cancel() }, nil
}

func (r *CallRepository) WatchCandidates(ctx context.Context, callID domain.CallID, onAdded func(*domain.Candidate)) (ports.CancelFunc, error) {
	sub := r.client.Subscribe(ctx, candChannel(callID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to candidate channel: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer sub.Close()

		// Replay records already appended. A candidate that lands between
		// the subscribe and this read arrives twice; application is
		// idempotent by contract.
		existing, err := r.client.LRange(watchCtx, candidatesKey(callID), 0, -1).Result()
		if err != nil && err != redis.Nil {
			r.logger.Warnw("candidate replay failed", "call_id", callID, "error", err)
		}
		for _, raw := range existing {
			r.deliverCandidate(callID, raw, onAdded)
		}

		ch := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliverCandidate(callID, msg.Payload, onAdded)
			}
		}
	}()

	return func() { cancel() }, nil
}

func (r *CallRepository) WatchCalls(ctx context.Context, onAdded func(*domain.Call)) (ports.CancelFunc, error) {
	sub := r.client.Subscribe(ctx, callsChanKey)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to calls channel: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer sub.Close()

		ids, err := r.client.SMembers(watchCtx, callsSetKey).Result()
		if err != nil && err != redis.Nil {
			r.logger.Warnw("call replay failed", "error", err)
		}
		for _, id := range ids {
			call, err := r.GetCall(watchCtx, domain.CallID(id))
			if err != nil {
				continue
			}
			onAdded(call)
		}

		ch := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var call domain.Call
				if err := json.Unmarshal([]byte(msg.Payload), &call); err != nil {
					r.logger.Warnw("malformed call event", "error", err)
					continue
				}
				onAdded(&call)
			}
		}
	}()

	return func() { cancel() }, nil
}

// applyPatchToDocument is the body of the update transaction: decode the
// stored document, merge the patch, re-encode.
func applyPatchToDocument(data []byte, patch domain.CallPatch) ([]byte, error) {
	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	patch.Apply(&call)

	updated, err := json.Marshal(&call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call: %w", err)
	}
	return updated, nil
}

// decodeCallEvent turns a document-channel payload into a call snapshot.
// The deletion tombstone decodes to nil.
func decodeCallEvent(payload string) (*domain.Call, error) {
	if payload == deletedSentinel {
		return nil, nil
	}
	var call domain.Call
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *CallRepository) deliverCandidate(callID domain.CallID, raw string, onAdded func(*domain.Candidate)) {
	var cand domain.Candidate
	if err := json.Unmarshal([]byte(raw), &cand); err != nil {
		r.logger.Warnw("malformed candidate event", "call_id", callID, "error", err)
		return
	}
	onAdded(&cand)
}

func (r *CallRepository) publish(ctx context.Context, channel string, payload []byte) {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		r.logger.Warnw("event publish failed", "channel", channel, "error", err)
	}
}
