// Package pipeline sequences reply, speech, envelope, capture and mux for
// each queue item.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"replybot/internal/config"
	"replybot/internal/envelope"
	"replybot/internal/media"
	"replybot/internal/render"
	"replybot/internal/store"
	"replybot/internal/tts"
	"replybot/internal/utils"
)

const AudioFile = "reply.wav"

type ReplyResolver interface {
	Resolve(ctx context.Context, tone, comment string) (string, error)
}

type Capturer interface {
	Capture(ctx context.Context, pagePath, outDir string, amps []float32) (int, error)
}

type Encoder interface {
	Mux(ctx context.Context, req media.MuxRequest) error
}

// Prober checks a finished video; optional.
type Prober interface {
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
}

// Ledger records every transition; optional.
type Ledger interface {
	Record(ctx context.Context, t Transition) error
}

// Notifier is told about every finished video; optional.
type Notifier interface {
	Notify(ctx context.Context, r Result) error
}

type Result struct {
	ID          string
	State       State
	FailedStage Stage
	Err         error
	VideoPath   string
	WAVPath     string
	Frames      int
	Skipped     bool
}

type Pipeline struct {
	Settings config.PipelineSettings
	QueueDir string

	Resolver ReplyResolver
	Synth    tts.Synthesizer
	Capturer Capturer
	Encoder  Encoder
	Prober   Prober
	Ledger   Ledger
	Notifier Notifier

	RunID string
}

func New(settings config.PipelineSettings, queueDir string) *Pipeline {
	return &Pipeline{Settings: settings, QueueDir: queueDir, RunID: uuid.NewString()}
}

func (p *Pipeline) logger(id string) *log.Logger {
	return utils.With("run_id", p.RunID, "id", id)
}

func (p *Pipeline) record(ctx context.Context, t Transition) {
	if p.Ledger == nil {
		return
	}
	t.RunID = p.RunID
	if err := p.Ledger.Record(ctx, t); err != nil {
		p.logger(t.ID).Warn("ledger record failed", "state", t.State, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, err *StageError) *StageError {
	p.logger(err.ID).Error("item failed", "stage", err.Stage, "error", err.Err)
	p.record(ctx, Transition{ID: err.ID, State: StateFailed, Stage: err.Stage, Err: err.Err})
	return err
}

// Reply attaches reply text to item (ENQUEUED -> REPLIED) and persists it.
// An existing reply is kept unless overwrite is set.
func (p *Pipeline) Reply(ctx context.Context, item *store.QueueItem, overwrite bool) (State, error) {
	logger := p.logger(item.ID)
	if strings.TrimSpace(item.Comment) == "" {
		return StateFailed, p.fail(ctx, stageErr(item.ID, StageReply, ErrMissingPrecondition, errors.New("empty comment")))
	}
	if item.HasReply() && !overwrite {
		logger.Info("reply exists; skipping", "stage", StageReply)
		return StateReplied, nil
	}
	if p.Resolver == nil {
		return StateFailed, p.fail(ctx, stageErr(item.ID, StageReply, ErrMissingPrecondition, errors.New("no reply resolver configured")))
	}

	text, err := p.Resolver.Resolve(ctx, p.Settings.Tone, item.Comment)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("resolver returned empty reply")
	}
	if err != nil {
		return StateFailed, p.fail(ctx, stageErr(item.ID, StageReply, nil, err))
	}
	item.ReplyText = text
	if err := store.SaveItem(p.QueueDir, *item); err != nil {
		return StateFailed, p.fail(ctx, stageErr(item.ID, StageReply, nil, err))
	}
	logger.Info("reply attached", "stage", StageReply, "words", len(strings.Fields(text)))
	p.record(ctx, Transition{ID: item.ID, State: StateReplied})
	return StateReplied, nil
}

// Render takes a replied item through SYNTHESIZED, CAPTURED and MUXED and
// writes the manifest. Each step requires the previous step's artifact.
func (p *Pipeline) Render(ctx context.Context, item store.QueueItem) (Result, error) {
	res := Result{ID: item.ID, State: StateEnqueued}
	failed := func(err *StageError) (Result, error) {
		res.State = StateFailed
		res.FailedStage = err.Stage
		res.Err = err
		return res, p.fail(ctx, err)
	}
	logger := p.logger(item.ID)

	// A previous render stops counting as finished the moment a new one
	// starts, so a failure below leaves neither manifest nor video.
	dir := store.ItemDir(p.QueueDir, item.ID)
	video := filepath.Join(dir, item.ID+".mp4")
	if err := removeRendered(dir, item.ID, video); err != nil {
		return failed(stageErr(item.ID, StageSynthesis, store.ErrStoreIO, err))
	}

	if !item.HasReply() {
		return failed(stageErr(item.ID, StageSynthesis, ErrMissingPrecondition, errors.New("reply_text is empty")))
	}
	res.State = StateReplied

	if err := utils.EnsureDir(dir); err != nil {
		return failed(stageErr(item.ID, StageSynthesis, store.ErrStoreIO, err))
	}

	// REPLIED -> SYNTHESIZED
	wav := filepath.Join(dir, AudioFile)
	res.WAVPath = wav
	if p.Synth == nil {
		return failed(stageErr(item.ID, StageSynthesis, ErrSynthesis, errors.New("no synthesizer configured")))
	}
	if err := p.Synth.Synthesize(ctx, item.ReplyText, wav); err != nil {
		return failed(stageErr(item.ID, StageSynthesis, ErrSynthesis, err))
	}
	if !utils.NonEmptyFile(wav) {
		return failed(stageErr(item.ID, StageSynthesis, ErrSynthesis, fmt.Errorf("no audio at %s", wav)))
	}
	res.State = StateSynthesized
	logger.Info("audio synthesized", "stage", StageSynthesis, "wav", wav)
	p.record(ctx, Transition{ID: item.ID, State: StateSynthesized})

	// SYNTHESIZED -> CAPTURED
	amps, waveform, err := envelope.FromFile(wav, envelope.Params{
		Frames: p.Settings.FrameCount,
		FPS:    p.Settings.FPS,
		Floor:  p.Settings.AmplitudeFloor,
		Ceil:   p.Settings.AmplitudeCeil,
	})
	if err != nil {
		return failed(stageErr(item.ID, StageCapture, ErrCapture, fmt.Errorf("envelope: %w", err)))
	}
	page, err := render.WritePage(dir, render.PageData{
		Comment: item.Comment,
		Reply:   item.ReplyText,
		Tone:    p.Settings.Tone,
	}, p.Settings.TemplatePath)
	if err != nil {
		return failed(stageErr(item.ID, StageCapture, ErrCapture, err))
	}
	if p.Capturer == nil {
		return failed(stageErr(item.ID, StageCapture, ErrCapture, errors.New("no capturer configured")))
	}
	frames, err := p.Capturer.Capture(ctx, page, dir, amps)
	if err != nil {
		return failed(stageErr(item.ID, StageCapture, ErrCapture, err))
	}
	if frames == 0 {
		return failed(stageErr(item.ID, StageCapture, ErrCapture, fmt.Errorf("no frames captured (see %s)", filepath.Join(dir, render.DebugDumpFile))))
	}
	res.State = StateCaptured
	res.Frames = frames
	logger.Info("frames captured", "stage", StageCapture, "frames", frames)
	p.record(ctx, Transition{ID: item.ID, State: StateCaptured})

	// CAPTURED -> MUXED
	if p.Encoder == nil {
		return failed(stageErr(item.ID, StageMux, ErrMux, errors.New("no encoder configured")))
	}
	if err := p.Encoder.Mux(ctx, media.MuxRequest{
		FramePattern: filepath.Join(dir, render.FramePattern),
		AudioPath:    wav,
		FPS:          p.Settings.FPS,
		OutputPath:   video,
	}); err != nil {
		return failed(stageErr(item.ID, StageMux, ErrMux, err))
	}
	p.checkDuration(ctx, logger, video, media.ExpectedDuration(frames, p.Settings.FPS, waveform.Seconds()))

	manifest := store.Manifest{
		Video:     video,
		WAV:       wav,
		Reply:     item.ReplyText,
		Frames:    frames,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if sum, err := utils.SHA256File(video); err == nil {
		manifest.VideoSHA256 = sum
	}
	if err := store.WriteManifest(dir, item.ID, manifest); err != nil {
		return failed(stageErr(item.ID, StageMux, ErrMux, err))
	}

	res.State = StateMuxed
	res.VideoPath = video
	logger.Info("video created", "stage", StageMux, "video", video)
	p.record(ctx, Transition{ID: item.ID, State: StateMuxed, VideoPath: video})
	if p.Notifier != nil {
		if err := p.Notifier.Notify(ctx, res); err != nil {
			logger.Warn("notify failed", "error", err)
		}
	}
	return res, nil
}

// removeRendered deletes the manifest first, then the video it points at.
func removeRendered(dir, id, video string) error {
	for _, path := range []string{store.ManifestPath(dir, id), video} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove previous render: %w", err)
		}
	}
	return nil
}

// checkDuration logs when the container length drifts from the expected
// shortest-stream duration by more than one frame.
func (p *Pipeline) checkDuration(ctx context.Context, logger *log.Logger, video string, expected float64) {
	if p.Prober == nil {
		return
	}
	probe, err := p.Prober.Probe(ctx, video)
	if err != nil {
		logger.Debug("probe failed", "error", err)
		return
	}
	got := probe.DurationSeconds()
	if math.Abs(got-expected) > 1/float64(max(p.Settings.FPS, 1)) {
		logger.Warn("video duration drift", "expected", expected, "actual", got)
		return
	}
	logger.Debug("video duration ok", "seconds", got)
}

type ProcessOptions struct {
	Overwrite bool
}

// Process runs Reply then Render for one item.
func (p *Pipeline) Process(ctx context.Context, item store.QueueItem, opts ProcessOptions) (Result, error) {
	p.record(ctx, Transition{ID: item.ID, State: StateEnqueued})
	if state, err := p.Reply(ctx, &item, opts.Overwrite); err != nil {
		var se *StageError
		stage := StageReply
		if errors.As(err, &se) {
			stage = se.Stage
		}
		return Result{ID: item.ID, State: state, FailedStage: stage, Err: err}, err
	}
	return p.Render(ctx, item)
}
