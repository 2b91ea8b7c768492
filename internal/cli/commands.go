package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"replybot/internal/config"
	"replybot/internal/discovery"
	"replybot/internal/jobs"
	"replybot/internal/moderation"
	"replybot/internal/pipeline"
	"replybot/internal/queue"
	"replybot/internal/render"
	"replybot/internal/store"
	"replybot/internal/utils"
)

func runCommentEnqueue(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Comment:Enqueue", flag.ContinueOnError)
	out := fs.String("out", jctx.Config.QueueDir(), "Queue directory")
	pattern := fs.String("pattern", "manual", "Matched pattern recorded on the item")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(positional) == 0 || strings.TrimSpace(positional[0]) == "" {
		return errors.New(`usage: Comment:Enqueue "<text>" [url]`)
	}
	url := ""
	if len(positional) > 1 {
		url = positional[1]
	}

	item, err := store.Enqueue(positional[0], url, *pattern, *out)
	if err != nil {
		return err
	}
	if err := jobs.Publish(jctx, queue.CommentEnqueued, queue.Payload{ID: item.ID}); err != nil {
		utils.Warn("publish enqueued failed", "id", item.ID, "err", err)
	}
	fmt.Fprintln(stdout, item.ID)
	return nil
}

func runDiscover(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Discover:Run", flag.ContinueOnError)
	input := fs.String("input", "-", "JSON lines of {url,text}; - reads stdin")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}

	profiles, err := config.LoadProfiles(jctx.Config.ProfilesPath)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	comments, invalid, err := discovery.ReadComments(r)
	if err != nil {
		return err
	}
	if invalid > 0 {
		utils.Warn("skipped invalid comment lines", "count", invalid)
	}

	runner := &discovery.Runner{
		Matcher:  discovery.NewMatcher(profiles.Keywords, profiles.RegexVariations),
		QueueDir: jctx.Config.QueueDir(),
		SeenPath: jctx.Config.SeenStatePath(),
		OnEnqueue: func(_ context.Context, item store.QueueItem) {
			if err := jobs.Publish(jctx, queue.CommentEnqueued, queue.Payload{ID: item.ID}); err != nil {
				utils.Warn("publish enqueued failed", "id", item.ID, "err", err)
			}
		},
	}
	sum, err := runner.Run(ctx, comments)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "read=%d seen=%d matched=%d enqueued=%d failed=%d\n", sum.Read, sum.AlreadySeen, sum.Matched, sum.Enqueued, sum.Failed)
	return nil
}

func runGenerateReplies(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("job:GenerateReplies", flag.ContinueOnError)
	tone := fs.String("tone", jctx.Config.ReplyTone, "Tone profile")
	maxWords := fs.Int("max-words", jctx.Config.MaxWords, "Reply word limit")
	overwrite := fs.Bool("overwrite", false, "Replace existing replies")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if *maxWords <= 0 {
		return fmt.Errorf("--max-words must be positive (got %d)", *maxWords)
	}
	jctx.Config.ReplyTone = *tone
	jctx.Config.MaxWords = *maxWords

	opts := jobs.JobOptions{Overwrite: *overwrite}
	if len(positional) > 0 {
		opts.ID = positional[0]
	}
	if jctx.Pipeline, err = jobs.NewPipeline(jctx); err != nil {
		return err
	}
	logJobStart("job:GenerateReplies", opts)
	return jobs.NewGenerateRepliesJob().Run(ctx, jctx, opts)
}

func runRenderReplies(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("job:RenderReplies", flag.ContinueOnError)
	sleep := fs.Int("sleep", 30, "Sleep time in seconds")
	queueFlag := fs.Bool("queue", false, "Process queue messages")
	once := fs.Bool("once", false, "Stop when the queue is empty")
	rerender := fs.Bool("rerender", false, "Render items that already have a video")
	overwrite := fs.Bool("overwrite", false, "Replace existing replies")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}

	opts := jobs.JobOptions{Sleep: *sleep, Queue: *queueFlag, QueueOnce: *once, Rerender: *rerender, Overwrite: *overwrite}
	if len(positional) > 0 {
		opts.ID = positional[0]
	}
	if jctx.Pipeline, err = jobs.NewPipeline(jctx); err != nil {
		return err
	}
	logJobStart("job:RenderReplies", opts)
	return jobs.NewRenderRepliesJob().Run(ctx, jctx, opts)
}

// runReplyOnce enqueues one comment and drives it through the whole pipeline.
func runReplyOnce(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Reply:Run", flag.ContinueOnError)
	headless := fs.Bool("headless", jctx.Config.Headless, "Run the browser headless")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(positional) == 0 || strings.TrimSpace(positional[0]) == "" {
		return errors.New(`usage: Reply:Run "<text>" [url]`)
	}
	url := ""
	if len(positional) > 1 {
		url = positional[1]
	}
	jctx.Config.Headless = *headless

	item, err := store.Enqueue(positional[0], url, "manual", jctx.Config.QueueDir())
	if err != nil {
		return err
	}
	p, err := jobs.NewPipeline(jctx)
	if err != nil {
		return err
	}
	res, err := p.Process(ctx, item, pipeline.ProcessOptions{})
	if err != nil {
		dir := store.ItemDir(jctx.Config.QueueDir(), item.ID)
		fmt.Fprintf(stdout, "no video for %s (failed at %s); looked for:\n", item.ID, res.FailedStage)
		for _, name := range []string{pipeline.AudioFile, render.FrameName(0), item.ID + ".mp4"} {
			path := filepath.Join(dir, name)
			fmt.Fprintf(stdout, "  %s exists=%t\n", path, utils.FileExists(path))
		}
		return err
	}
	fmt.Fprintln(stdout, res.VideoPath)
	return nil
}

func runModerationList(_ context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Moderation:List", flag.ContinueOnError)
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}
	entries, err := moderation.List(jctx.Config.QueueDir())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no rendered items")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s\t%s\t%q -> %q\n", e.ID, e.Manifest.Video, shorten(e.Comment, 60), shorten(e.Manifest.Reply, 60))
	}
	return nil
}

func runModerationApprove(_ context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Moderation:Approve", flag.ContinueOnError)
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: Moderation:Approve <id>")
	}
	dst, err := moderation.Approve(jctx.Config.QueueDir(), jctx.Config.PublishedDir(), positional[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, dst)
	return nil
}

func runLedgerStatus(ctx context.Context, jctx jobs.JobContext, args []string) error {
	fs := flag.NewFlagSet("Ledger:Status", flag.ContinueOnError)
	state := fs.String("state", "", "List items in this state")
	limit := fs.Int("limit", 20, "Maximum items to list")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}
	if jctx.Store == nil {
		return errors.New("db is not configured")
	}
	if *state == "" {
		counts, err := jctx.Store.CountByState(ctx)
		if err != nil {
			return err
		}
		for _, s := range []pipeline.State{pipeline.StateEnqueued, pipeline.StateReplied, pipeline.StateSynthesized, pipeline.StateCaptured, pipeline.StateMuxed, pipeline.StateFailed} {
			fmt.Fprintf(stdout, "%-12s %d\n", s, counts[string(s)])
		}
		return nil
	}
	items, err := jctx.Store.ListByState(ctx, strings.ToUpper(*state), *limit)
	if err != nil {
		return err
	}
	for _, it := range items {
		stage, msg := "", ""
		if it.FailedStage != nil {
			stage = *it.FailedStage
		}
		if it.Error != nil {
			msg = *it.Error
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", it.ID, it.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), stage, msg)
	}
	return nil
}

func shorten(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
