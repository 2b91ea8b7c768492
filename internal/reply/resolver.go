// Package reply turns a comment into a short, tone-bounded reply.
package reply

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"replybot/internal/config"
	"replybot/internal/utils"
)

const (
	DefaultTone     = "satirical"
	commentToken    = "{comment}"
	defaultTemplate = `You are a witty robot. Respond to the human comment: "{comment}" in under 30 words. Keep it TikTok-safe, playful, and concise. Output only the reply.`
	ellipsis        = "…"
)

// Generator produces candidate reply text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxWords int) (string, error)
}

var ErrEmptyComment = errors.New("comment is empty")

// ResolveTone picks override, then the profile fallback, then the first profile, then satirical.
func ResolveTone(profiles config.Profiles, override string) string {
	if override != "" {
		return override
	}
	if profiles.FallbackTone != "" {
		return profiles.FallbackTone
	}
	for _, p := range profiles.ToneProfiles {
		if p.ID != "" {
			return p.ID
		}
	}
	return DefaultTone
}

// BuildPrompt fills the tone's template with the comment.
func BuildPrompt(profiles config.Profiles, tone, comment string) string {
	template, ok := profiles.Template(tone)
	if !ok {
		template = defaultTemplate
	}
	if !strings.Contains(template, commentToken) {
		return "Respond to this comment in under 30 words, playful and safe:\n" + comment
	}
	return strings.ReplaceAll(template, commentToken, comment)
}

// EnforceWordLimit keeps the first limit words and marks the cut with an ellipsis.
func EnforceWordLimit(text string, limit int) string {
	words := strings.Fields(text)
	if limit <= 0 || len(words) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:limit], " ") + ellipsis
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

type Resolver struct {
	Profiles  config.Profiles
	MaxWords  int
	Generator Generator
	// Pick chooses an index in [0, n); defaults to math/rand.
	Pick func(n int) int
}

func NewResolver(profiles config.Profiles, maxWords int, gen Generator) *Resolver {
	return &Resolver{Profiles: profiles, MaxWords: maxWords, Generator: gen}
}

// Resolve returns a non-empty reply of at most MaxWords words (plus ellipsis).
func (r *Resolver) Resolve(ctx context.Context, tone, comment string) (string, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return "", ErrEmptyComment
	}
	tone = ResolveTone(r.Profiles, tone)

	var text string
	if r.Generator != nil {
		prompt := BuildPrompt(r.Profiles, tone, comment)
		generated, err := r.Generator.Generate(ctx, prompt, r.MaxWords)
		if err != nil {
			utils.Warn("reply generator failed, using fallback", "tone", tone, "error", err)
		} else {
			text = generated
		}
	}
	if strings.TrimSpace(text) == "" {
		text = r.fallback(tone, comment)
	}

	text = collapseWhitespace(EnforceWordLimit(text, r.MaxWords))
	if text == "" {
		text = collapseWhitespace(EnforceWordLimit(r.fallback(tone, comment), r.MaxWords))
	}
	return text, nil
}

func (r *Resolver) fallback(tone, comment string) string {
	pick := r.Pick
	if pick == nil {
		pick = rand.IntN
	}
	return Fallback(tone, comment, pick)
}
