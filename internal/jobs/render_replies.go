package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"replybot/internal/pipeline"
	"replybot/internal/queue"
	"replybot/internal/store"
	"replybot/internal/utils"
)

// RenderRepliesJob turns queued comments into reply videos.
type RenderRepliesJob struct {
	BaseJob
}

func NewRenderRepliesJob() RenderRepliesJob {
	return RenderRepliesJob{
		BaseJob: BaseJob{
			QueueInput:      queue.CommentEnqueued,
			QueueOutput:     queue.ReplyRendered,
			IgnoreHostCheck: true,
		},
	}
}

func (j RenderRepliesJob) Run(ctx context.Context, jctx JobContext, opts JobOptions) error {
	if jctx.Pipeline == nil {
		return fmt.Errorf("pipeline is not configured")
	}
	if opts.Queue {
		return j.RunQueue(ctx, jctx, opts, func(ctx context.Context, id string, hostname string) error {
			return j.processID(ctx, jctx, id, opts)
		})
	}
	if opts.ID != "" {
		return j.processID(ctx, jctx, opts.ID, opts)
	}

	res, err := jctx.Pipeline.RunBatch(ctx, pipeline.BatchOptions{
		Reply:     true,
		Render:    true,
		Overwrite: opts.Overwrite,
		Rerender:  opts.Rerender,
	})
	if err != nil {
		return err
	}
	utils.Logf("RenderReplies: rendered=%d failed=%d skipped=%d", res.Succeeded, res.Failed, res.Skipped)
	return nil
}

// processID runs one item. Stage failures are already recorded against the
// item, so they are reported and swallowed; only infrastructure errors
// surface to the caller.
func (j RenderRepliesJob) processID(ctx context.Context, jctx JobContext, id string, opts JobOptions) error {
	item, err := store.LoadByID(jctx.Config.QueueDir(), id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			utils.Warn("RenderReplies: item not in queue", "id", id)
			return nil
		}
		return err
	}
	res, err := jctx.Pipeline.Process(ctx, item, pipeline.ProcessOptions{Overwrite: opts.Overwrite})
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			utils.Error("RenderReplies: item failed", "id", id, "state", res.State, "stage", res.FailedStage, "err", err)
			return nil
		}
		return err
	}
	utils.Info("RenderReplies: done", "id", id, "video", res.VideoPath)
	return nil
}
