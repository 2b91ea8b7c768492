package jobs

import (
	"context"
	"fmt"

	"replybot/internal/pipeline"
	"replybot/internal/utils"
)

// GenerateRepliesJob fills reply_text for queued items.
type GenerateRepliesJob struct {
	BaseJob
}

func NewGenerateRepliesJob() GenerateRepliesJob {
	return GenerateRepliesJob{}
}

func (j GenerateRepliesJob) Run(ctx context.Context, jctx JobContext, opts JobOptions) error {
	if jctx.Pipeline == nil {
		return fmt.Errorf("pipeline is not configured")
	}
	batchOpts := pipeline.BatchOptions{Reply: true, Overwrite: opts.Overwrite}
	if opts.ID != "" {
		batchOpts.IDs = []string{opts.ID}
	}
	res, err := jctx.Pipeline.RunBatch(ctx, batchOpts)
	if err != nil {
		return err
	}
	utils.Logf("GenerateReplies: replied=%d failed=%d skipped=%d", res.Succeeded, res.Failed, res.Skipped)
	return nil
}
