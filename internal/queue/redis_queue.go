// Package queue implements the delayed job queue on Redis: a sorted set
// scored by run time feeding a stream read through a consumer group.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/payment-reconciler/internal/model"
)

const (
	jobField          = "job"
	readCount         = 10
	redisBlockTimeout = 1000 // milliseconds
)

// promoteScript moves one member from the schedule to the stream atomically.
// It returns nil when another scheduler already moved it.
var promoteScript = rueidis.NewLuaScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  return redis.call('XADD', KEYS[2], '*', 'job', ARGV[1])
end
return false
`)

// Options names the Redis keys used by the queue.
type Options struct {
	ScheduleKey string
	StreamKey   string
	Group       string
	RetryDelay  time.Duration
	// MaxAttempts caps runs per job. Zero means no cap.
	MaxAttempts int
}

// RedisQueue is the delayed job queue.
type RedisQueue struct {
	client rueidis.Client
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(client rueidis.Client, opts Options, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{client: client, opts: opts, now: time.Now, logger: logger}
}

// Schedule stores job until its RunAt.
func (q *RedisQueue) Schedule(ctx context.Context, job *model.DelayedJob) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}

	cmd := q.client.B().Zadd().Key(q.opts.ScheduleKey).ScoreMember().
		ScoreMember(float64(job.RunAt.UnixMilli()), payload).
		Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
	}

	q.logger.Info("Job scheduled",
		slog.String("job_id", job.ID),
		slog.String("event_type", job.Event.EventType),
		slog.Time("run_at", job.RunAt),
		slog.Int("attempt", job.Attempt))

	return nil
}

// PromoteDue moves up to limit jobs whose run time has passed onto the stream.
func (q *RedisQueue) PromoteDue(ctx context.Context, limit int) (int, error) {
	upper := strconv.FormatInt(q.now().UnixMilli(), 10)
	cmd := q.client.B().Zrangebyscore().Key(q.opts.ScheduleKey).Min("-inf").Max(upper).
		Limit(0, int64(limit)).
		Build()

	members, err := q.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to read due jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		// 他のスケジューラが先に移動した場合は nil が返る
		id, err := promoteScript.Exec(ctx, q.client, []string{q.opts.ScheduleKey, q.opts.StreamKey}, []string{member}).ToString()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}

			return promoted, fmt.Errorf("failed to promote job: %w", err)
		}

		promoted++
		q.logger.Debug("Job promoted", slog.String("message_id", id))
	}

	return promoted, nil
}

// EnsureGroup creates the consumer group and stream if they do not exist.
func (q *RedisQueue) EnsureGroup(ctx context.Context) {
	cmd := q.client.B().XgroupCreate().Key(q.opts.StreamKey).Group(q.opts.Group).Id("0").Mkstream().Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		q.logger.Info("Consumer group creation result (may already exist)", slog.String("error", err.Error()))
	}
}

// Handler runs one delayed job.
type Handler func(ctx context.Context, job *model.DelayedJob) error

// Consume reads one batch for consumer and handles it. With pending set it
// re-reads messages delivered to consumer earlier but never acknowledged.
func (q *RedisQueue) Consume(ctx context.Context, consumer string, pending bool, handle Handler) (int, error) {
	id := ">"
	if pending {
		id = "0"
	}

	readCmd := q.client.B().Xreadgroup().Group(q.opts.Group, consumer).
		Count(readCount).
		Block(redisBlockTimeout).
		Streams().
		Key(q.opts.StreamKey).
		Id(id).
		Build()

	streams, err := q.client.Do(ctx, readCmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil // タイムアウト
		}

		return 0, fmt.Errorf("failed to read jobs: %w", err)
	}

	handled := 0
	for _, messages := range streams {
		for _, message := range messages {
			if err := q.process(ctx, message, handle); err != nil {
				q.logger.Error("Failed to process job message",
					slog.String("message_id", message.ID),
					slog.String("error", err.Error()))

				continue
			}
			handled++
		}
	}

	return handled, nil
}

// process runs the handler and acknowledges the message. A failed job is
// scheduled again before the ack unless it can never succeed.
func (q *RedisQueue) process(ctx context.Context, message rueidis.XRangeEntry, handle Handler) error {
	payload, ok := message.FieldValues[jobField]
	if !ok {
		q.logger.Warn("Dropping message without job field", slog.String("message_id", message.ID))

		return q.ack(ctx, message.ID)
	}

	job, err := DecodeJob(payload)
	if err != nil {
		q.logger.Warn("Dropping undecodable job", slog.String("message_id", message.ID), slog.String("error", err.Error()))

		return q.ack(ctx, message.ID)
	}

	if handleErr := handle(ctx, job); handleErr != nil {
		if !q.shouldRetry(job, handleErr) {
			q.logger.Error("Job failed permanently, dropping",
				slog.String("job_id", job.ID),
				slog.String("event_type", job.Event.EventType),
				slog.Int("attempt", job.Attempt),
				slog.String("error", handleErr.Error()))

			return q.ack(ctx, message.ID)
		}

		retry := job.Retry(q.now().Add(q.opts.RetryDelay))
		q.logger.Warn("Job failed, rescheduling",
			slog.String("job_id", job.ID),
			slog.Int("attempt", retry.Attempt),
			slog.String("error", handleErr.Error()))

		if err := q.Schedule(ctx, retry); err != nil {
			return errors.Join(handleErr, err)
		}
	}

	return q.ack(ctx, message.ID)
}

// shouldRetry reports whether a failed job gets another run. Malformed events
// fail the same way every time.
func (q *RedisQueue) shouldRetry(job *model.DelayedJob, err error) bool {
	if errors.Is(err, model.ErrMalformedEvent) {
		return false
	}

	return q.opts.MaxAttempts <= 0 || job.Attempt+1 < q.opts.MaxAttempts
}

func (q *RedisQueue) ack(ctx context.Context, messageID string) error {
	cmd := q.client.B().Xack().Key(q.opts.StreamKey).Group(q.opts.Group).Id(messageID).Build()
	if err := q.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to ACK message %s: %w", messageID, err)
	}
	q.logger.Debug("ACKed message", slog.String("message_id", messageID))

	return nil
}

// EncodeJob serializes a job for storage.
func EncodeJob(job *model.DelayedJob) (string, error) {
	if job == nil || job.Event == nil {
		return "", errors.New("job without event")
	}

	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	return string(b), nil
}

// DecodeJob parses a stored job.
func DecodeJob(payload string) (*model.DelayedJob, error) {
	var job model.DelayedJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Event == nil {
		return nil, errors.New("job without event")
	}

	return &job, nil
}
