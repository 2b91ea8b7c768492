package jobs

import (
	"context"

	"replybot/internal/config"
	"replybot/internal/media"
	"replybot/internal/pipeline"
	"replybot/internal/queue"
	"replybot/internal/render"
	"replybot/internal/reply"
	"replybot/internal/slack"
	"replybot/internal/store"
	"replybot/internal/tts"
	"replybot/internal/utils"
)

// NewPipeline wires the production collaborators: piper, headless Chrome,
// ffmpeg and the reply resolver. The ledger, the queue and Slack review
// announcements are added only when configured.
func NewPipeline(jctx JobContext) (*pipeline.Pipeline, error) {
	cfg := jctx.Config
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	settings := cfg.Pipeline()

	p := pipeline.New(settings, cfg.QueueDir())
	p.Resolver = reply.NewResolver(profiles, cfg.MaxWords, reply.NewOpenAIGenerator(cfg))
	p.Synth = tts.NewPiper(cfg.TTSBinary, cfg.TTSOnnxModel, cfg.TTSConfig, cfg.TTSSentenceSilence)
	p.Capturer = render.NewDriver(render.ChromeBrowser{
		Headless: cfg.Headless,
		Width:    cfg.WindowWidth,
		Height:   cfg.WindowHeight,
		ExecPath: cfg.ChromePath,
	}, render.Options{
		FrameCount:       settings.FrameCount,
		FPS:              settings.FPS,
		ReadyTimeout:     settings.ReadyTimeout,
		SettleDelay:      settings.SettleDelay,
		RootSelector:     settings.RootSelector,
		DefaultAmplitude: render.DefaultAmplitude,
	})
	muxer := media.NewMuxer(settings.FFmpegBin, settings.FFprobeBin)
	p.Encoder = muxer
	p.Prober = muxer
	if jctx.Store != nil {
		p.Ledger = jctx.Store
	}
	var notifiers Notifiers
	if jctx.Queue != nil {
		notifiers = append(notifiers, QueueNotifier{JobContext: jctx, QueueName: queue.ReplyRendered})
	}
	if cfg.SlackReviewEnabled() {
		notifiers = append(notifiers, SlackNotifier{
			Client:   slack.New(cfg.SlackBotToken),
			Channel:  cfg.SlackReviewChannel,
			QueueDir: cfg.QueueDir(),
		})
	}
	switch len(notifiers) {
	case 0:
	case 1:
		p.Notifier = notifiers[0]
	default:
		p.Notifier = notifiers
	}
	utils.Debug("pipeline wired", "run_id", p.RunID, "ledger", p.Ledger != nil, "notifier", p.Notifier != nil)
	return p, nil
}

// QueueNotifier announces finished videos on a queue.
type QueueNotifier struct {
	JobContext JobContext
	QueueName  string
}

func (n QueueNotifier) Notify(_ context.Context, r pipeline.Result) error {
	return Publish(n.JobContext, n.QueueName, queue.Payload{ID: r.ID, VideoPath: r.VideoPath})
}

// Notifiers fans a result out to several notifiers. Every notifier runs; the
// first error is returned.
type Notifiers []pipeline.Notifier

func (ns Notifiers) Notify(ctx context.Context, r pipeline.Result) error {
	var first error
	for _, n := range ns {
		if err := n.Notify(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SlackNotifier posts finished videos to a review channel.
type SlackNotifier struct {
	Client   *slack.Client
	Channel  string
	QueueDir string
}

func (n SlackNotifier) Notify(ctx context.Context, r pipeline.Result) error {
	var comment, replyText string
	if item, err := store.LoadByID(n.QueueDir, r.ID); err == nil {
		comment, replyText = item.Comment, item.ReplyText
	}
	_, err := n.Client.PostMessage(ctx, n.Channel, slack.ReviewText(r.ID, comment, replyText, r.VideoPath), "")
	return err
}
