package jobs

import (
	"context"
	"fmt"
	"time"

	"replybot/internal/config"
	"replybot/internal/db"
	"replybot/internal/pipeline"
	"replybot/internal/queue"
	"replybot/internal/store"
	"replybot/internal/utils"
)

// QueueClient is the part of queue.Client the jobs use.
type QueueClient interface {
	PublishPayload(queueName string, p queue.Payload) error
	Pop(queueName string) (*queue.Message, error)
}

// Processor runs the pipeline; *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, item store.QueueItem, opts pipeline.ProcessOptions) (pipeline.Result, error)
	RunBatch(ctx context.Context, opts pipeline.BatchOptions) (pipeline.BatchResult, error)
}

type JobContext struct {
	Config   config.Config
	Store    *db.Store
	Queue    QueueClient
	Pipeline Processor
}

type JobOptions struct {
	ID        string
	Sleep     int
	Queue     bool
	QueueOnce bool
	Overwrite bool
	Rerender  bool
}

type BaseJob struct {
	QueueInput      string
	QueueOutput     string
	IgnoreHostCheck bool
}

type QueueHandler func(ctx context.Context, id string, hostname string) error

var sleepFor = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunQueue pops QueueInput until the context ends. Undecodable payloads are
// dropped; handler errors and host mismatches are requeued.
func (b BaseJob) RunQueue(ctx context.Context, jctx JobContext, opts JobOptions, handler QueueHandler) error {
	if jctx.Queue == nil {
		return fmt.Errorf("queue client is not configured")
	}

	sleep := opts.Sleep
	if sleep <= 0 {
		sleep = 30
	}
	pause := time.Duration(sleep) * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := jctx.Queue.Pop(b.QueueInput)
		if err != nil {
			return err
		}
		if msg == nil {
			if opts.QueueOnce {
				return nil
			}
			utils.Debug("queue empty", "queue", b.QueueInput, "sleep_s", sleep)
			if err := sleepFor(ctx, pause); err != nil {
				return err
			}
			continue
		}

		payload, err := queue.DecodePayload(msg.Body)
		if err != nil {
			utils.Warn("queue payload dropped", "queue", b.QueueInput, "err", err)
			_ = msg.Ack()
			continue
		}

		if !b.IgnoreHostCheck && payload.Hostname != "" && payload.Hostname != jctx.Config.Hostname {
			utils.Warn("queue host mismatch", "queue", b.QueueInput, "message_host", payload.Hostname, "local_host", jctx.Config.Hostname)
			_ = msg.Nack(true)
			if err := sleepFor(ctx, pause); err != nil {
				return err
			}
			continue
		}

		if err := handler(ctx, payload.ID, payload.Hostname); err != nil {
			utils.Error("queue handler error", "queue", b.QueueInput, "id", payload.ID, "err", err)
			_ = msg.Nack(true)
			continue
		}
		_ = msg.Ack()
	}
}

// Publish sends a payload for id to queueName. It is a no-op without a queue.
func Publish(jctx JobContext, queueName string, payload queue.Payload) error {
	if jctx.Queue == nil || queueName == "" {
		return nil
	}
	if payload.Hostname == "" {
		payload.Hostname = jctx.Config.Hostname
	}
	return jctx.Queue.PublishPayload(queueName, payload)
}
