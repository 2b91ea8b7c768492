package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"replybot/internal/store"
	"replybot/internal/utils"
)

type BatchOptions struct {
	Reply     bool
	Render    bool
	Overwrite bool
	// Rerender renders items that already have a manifest and video.
	Rerender bool
	// IDs limits the batch; empty means every queued item.
	IDs []string
}

type BatchResult struct {
	RunID     string
	Results   []Result
	Succeeded int
	Failed    int
	Skipped   int
}

// RunBatch processes the queue in name order. A failing item is logged and
// counted; it never stops the batch.
func (p *Pipeline) RunBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	batch := BatchResult{RunID: p.RunID}
	paths, err := store.ListItems(p.QueueDir)
	if err != nil {
		return batch, err
	}
	wanted := map[string]bool{}
	for _, id := range opts.IDs {
		wanted[strings.TrimSpace(id)] = true
	}

	utils.Info("batch start", "run_id", p.RunID, "items", len(paths), "reply", opts.Reply, "render", opts.Render)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		res := p.runOne(ctx, path, opts)
		switch {
		case res.Skipped:
			batch.Skipped++
		case res.Err != nil:
			batch.Failed++
		default:
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, res)
	}
	utils.Info("batch done", "run_id", p.RunID, "ok", batch.Succeeded, "failed", batch.Failed, "skipped", batch.Skipped)
	return batch, nil
}

func (p *Pipeline) runOne(ctx context.Context, path string, opts BatchOptions) Result {
	item, err := store.LoadItem(path)
	if err != nil {
		utils.Error("load item failed", "run_id", p.RunID, "path", path, "error", err)
		return Result{ID: filepath.Base(path), State: StateFailed, Err: err}
	}
	// ENQUEUED is recorded once per item, and only when work starts, so a
	// skipped item keeps its last ledger state.
	entered := false
	enter := func() {
		if !entered {
			p.record(ctx, Transition{ID: item.ID, State: StateEnqueued})
			entered = true
		}
	}

	replaced := false
	if opts.Reply {
		if !item.HasReply() || opts.Overwrite {
			enter()
		}
		previous := item.ReplyText
		state, err := p.Reply(ctx, &item, opts.Overwrite)
		if err != nil {
			var se *StageError
			errors.As(err, &se)
			return Result{ID: item.ID, State: state, FailedStage: stageOf(se), Err: err}
		}
		replaced = item.ReplyText != previous
		if !opts.Render {
			return Result{ID: item.ID, State: state}
		}
	}
	if !opts.Render {
		return Result{ID: item.ID, State: StateEnqueued, Skipped: true}
	}
	if !opts.Rerender && !replaced && p.alreadyRendered(item.ID) {
		p.logger(item.ID).Info("already rendered; skipping")
		return Result{ID: item.ID, State: StateMuxed, Skipped: true}
	}
	if replaced {
		p.logger(item.ID).Info("reply changed; rendering again")
	}
	enter()
	res, _ := p.Render(ctx, item)
	return res
}

// alreadyRendered requires both the manifest and the video it points at.
func (p *Pipeline) alreadyRendered(id string) bool {
	m, err := store.ReadManifest(store.ItemDir(p.QueueDir, id), id)
	if err != nil {
		return false
	}
	return utils.NonEmptyFile(m.Video)
}

func stageOf(se *StageError) Stage {
	if se == nil {
		return ""
	}
	return se.Stage
}
