package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replybot/internal/config"
	"replybot/internal/pipeline"
	"replybot/internal/queue"
	"replybot/internal/slack"
	"replybot/internal/store"
)

type settlement struct {
	acked    bool
	requeued bool
}

type fakeQueue struct {
	pending   [][]byte
	settled   []*settlement
	published map[string][]any
}

func (q *fakeQueue) push(t *testing.T, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	q.pending = append(q.pending, body)
}

func (q *fakeQueue) Pop(string) (*queue.Message, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	body := q.pending[0]
	q.pending = q.pending[1:]
	s := &settlement{}
	q.settled = append(q.settled, s)
	return queue.NewMessage(body,
		func(bool) error { s.acked = true; return nil },
		func(_, requeue bool) error { s.requeued = requeue; return nil },
	), nil
}

func (q *fakeQueue) PublishPayload(name string, v queue.Payload) error {
	if q.published == nil {
		q.published = map[string][]any{}
	}
	q.published[name] = append(q.published[name], v)
	return nil
}

type fakeProcessor struct {
	processed []string
	err       error
	batches   []pipeline.BatchOptions
}

func (p *fakeProcessor) Process(_ context.Context, item store.QueueItem, _ pipeline.ProcessOptions) (pipeline.Result, error) {
	p.processed = append(p.processed, item.ID)
	if p.err != nil {
		return pipeline.Result{ID: item.ID, State: pipeline.StateFailed}, p.err
	}
	return pipeline.Result{ID: item.ID, State: pipeline.StateMuxed}, nil
}

func (p *fakeProcessor) RunBatch(_ context.Context, opts pipeline.BatchOptions) (pipeline.BatchResult, error) {
	p.batches = append(p.batches, opts)
	return pipeline.BatchResult{}, nil
}

func noSleep(t *testing.T) {
	prev := sleepFor
	sleepFor = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { sleepFor = prev })
}

func TestRunQueueSettlesMessages(t *testing.T) {
	noSleep(t)
	q := &fakeQueue{}
	q.push(t, queue.Payload{ID: "good"})
	q.pending = append(q.pending, []byte("not json"))
	q.push(t, queue.Payload{ID: " "})
	q.push(t, queue.Payload{ID: "boom"})

	var handled []string
	job := BaseJob{QueueInput: "in", IgnoreHostCheck: true}
	err := job.RunQueue(context.Background(), JobContext{Queue: q}, JobOptions{QueueOnce: true}, func(_ context.Context, id, _ string) error {
		handled = append(handled, id)
		if id == "boom" {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "boom"}, handled)
	require.Len(t, q.settled, 4)
	assert.True(t, q.settled[0].acked)
	assert.True(t, q.settled[1].acked, "undecodable payload dropped")
	assert.True(t, q.settled[2].acked, "missing id dropped")
	assert.True(t, q.settled[3].requeued)
}

func TestRunQueueHostMismatchRequeues(t *testing.T) {
	noSleep(t)
	q := &fakeQueue{}
	q.push(t, queue.Payload{ID: "x", Hostname: "other"})

	job := BaseJob{QueueInput: "in"}
	jctx := JobContext{Config: config.Config{Hostname: "here"}, Queue: q}
	err := job.RunQueue(context.Background(), jctx, JobOptions{QueueOnce: true}, func(context.Context, string, string) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, q.settled[0].requeued)
}

func TestRunQueueStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := BaseJob{QueueInput: "in"}.RunQueue(ctx, JobContext{Queue: &fakeQueue{}}, JobOptions{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunQueueWithoutClient(t *testing.T) {
	err := BaseJob{}.RunQueue(context.Background(), JobContext{}, JobOptions{}, nil)
	assert.Error(t, err)
}

func TestPublishFillsHostname(t *testing.T) {
	q := &fakeQueue{}
	jctx := JobContext{Config: config.Config{Hostname: "box"}, Queue: q}
	require.NoError(t, Publish(jctx, queue.CommentEnqueued, queue.Payload{ID: "abc"}))
	assert.Equal(t, []any{queue.Payload{ID: "abc", Hostname: "box"}}, q.published[queue.CommentEnqueued])

	assert.NoError(t, Publish(JobContext{}, queue.CommentEnqueued, queue.Payload{ID: "abc"}), "no queue is a no-op")
}

func TestQueueNotifier(t *testing.T) {
	q := &fakeQueue{}
	n := QueueNotifier{JobContext: JobContext{Config: config.Config{Hostname: "box"}, Queue: q}, QueueName: queue.ReplyRendered}
	require.NoError(t, n.Notify(context.Background(), pipeline.Result{ID: "abc", VideoPath: "/v.mp4"}))
	assert.Equal(t, []any{queue.Payload{ID: "abc", Hostname: "box", VideoPath: "/v.mp4"}}, q.published[queue.ReplyRendered])
}

func queueConfig(t *testing.T) config.Config {
	return config.Config{OutputDir: filepath.Join(t.TempDir(), "out")}
}

func TestRenderRepliesQueueMode(t *testing.T) {
	noSleep(t)
	cfg := queueConfig(t)
	item, err := store.Enqueue("hey robot", "", "manual", cfg.QueueDir())
	require.NoError(t, err)

	q := &fakeQueue{}
	q.push(t, queue.Payload{ID: item.ID})
	q.push(t, queue.Payload{ID: "missing"})
	proc := &fakeProcessor{}

	err = NewRenderRepliesJob().Run(context.Background(), JobContext{Config: cfg, Queue: q, Pipeline: proc}, JobOptions{Queue: true, QueueOnce: true})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, proc.processed)
	assert.True(t, q.settled[0].acked)
	assert.True(t, q.settled[1].acked, "unknown id is dropped")
}

func TestRenderRepliesStageFailureIsAcked(t *testing.T) {
	noSleep(t)
	cfg := queueConfig(t)
	item, err := store.Enqueue("hey robot", "", "manual", cfg.QueueDir())
	require.NoError(t, err)

	q := &fakeQueue{}
	q.push(t, queue.Payload{ID: item.ID})
	proc := &fakeProcessor{err: &pipeline.StageError{ID: item.ID, Stage: pipeline.StageCapture, Err: pipeline.ErrCapture}}

	err = NewRenderRepliesJob().Run(context.Background(), JobContext{Config: cfg, Queue: q, Pipeline: proc}, JobOptions{Queue: true, QueueOnce: true})
	require.NoError(t, err)
	assert.True(t, q.settled[0].acked)
}

func TestRenderRepliesBatchAndSingle(t *testing.T) {
	cfg := queueConfig(t)
	item, err := store.Enqueue("hey robot", "", "manual", cfg.QueueDir())
	require.NoError(t, err)
	proc := &fakeProcessor{}
	jctx := JobContext{Config: cfg, Pipeline: proc}

	require.NoError(t, NewRenderRepliesJob().Run(context.Background(), jctx, JobOptions{Rerender: true}))
	require.Len(t, proc.batches, 1)
	assert.Equal(t, pipeline.BatchOptions{Reply: true, Render: true, Rerender: true}, proc.batches[0])

	require.NoError(t, NewRenderRepliesJob().Run(context.Background(), jctx, JobOptions{ID: item.ID}))
	assert.Equal(t, []string{item.ID}, proc.processed)
}

func TestGenerateRepliesBatch(t *testing.T) {
	proc := &fakeProcessor{}
	require.NoError(t, NewGenerateRepliesJob().Run(context.Background(), JobContext{Pipeline: proc}, JobOptions{ID: "abc", Overwrite: true}))
	require.Len(t, proc.batches, 1)
	assert.Equal(t, pipeline.BatchOptions{Reply: true, Overwrite: true, IDs: []string{"abc"}}, proc.batches[0])

	assert.Error(t, NewGenerateRepliesJob().Run(context.Background(), JobContext{}, JobOptions{}))
}

func TestNewPipelineWiresOptionalCollaborators(t *testing.T) {
	cfg := queueConfig(t)
	cfg.MaxWords = 30
	cfg.FPS = 12
	cfg.FrameCount = 18

	p, err := NewPipeline(JobContext{Config: cfg})
	require.NoError(t, err)
	assert.NotNil(t, p.Resolver)
	assert.NotNil(t, p.Synth)
	assert.NotNil(t, p.Capturer)
	assert.NotNil(t, p.Encoder)
	assert.Nil(t, p.Ledger)
	assert.Nil(t, p.Notifier)
	assert.Equal(t, cfg.QueueDir(), p.QueueDir)

	p, err = NewPipeline(JobContext{Config: cfg, Queue: &fakeQueue{}})
	require.NoError(t, err)
	assert.NotNil(t, p.Notifier)
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, pipeline.Result) error {
	n.calls++
	return errors.New("down")
}

func TestNotifiersRunsAll(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	err := Notifiers{a, b}.Notify(context.Background(), pipeline.Result{ID: "x"})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestSlackNotifierPostsReview(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1.2"}`))
	}))
	defer srv.Close()

	cfg := queueConfig(t)
	item, err := store.Enqueue("hey robot", "", "manual", cfg.QueueDir())
	require.NoError(t, err)
	item.ReplyText = "beep"
	require.NoError(t, store.SaveItem(cfg.QueueDir(), item))

	n := SlackNotifier{Client: &slack.Client{BotToken: "t", BaseURL: srv.URL}, Channel: "C1", QueueDir: cfg.QueueDir()}
	require.NoError(t, n.Notify(context.Background(), pipeline.Result{ID: item.ID, VideoPath: "/v.mp4"}))
	assert.Contains(t, body, item.ID)
	assert.Contains(t, body, "hey robot")
	assert.Contains(t, body, "beep")
}

func TestNewPipelineCombinesNotifiers(t *testing.T) {
	cfg := queueConfig(t)
	cfg.MaxWords = 30
	cfg.SlackBotToken = "t"
	cfg.SlackReviewChannel = "C1"

	p, err := NewPipeline(JobContext{Config: cfg, Queue: &fakeQueue{}})
	require.NoError(t, err)
	ns, ok := p.Notifier.(Notifiers)
	require.True(t, ok)
	assert.Len(t, ns, 2)
}
