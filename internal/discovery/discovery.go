// Package discovery gates producer comments through the seen set and the
// keyword/regex rules, enqueueing the matches.
package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"replybot/internal/store"
	"replybot/internal/utils"
)

// Comment is one line of producer output: {"url": ..., "text": ...}.
type Comment struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

type rule struct {
	source string
	re     *regexp.Regexp
}

type Matcher struct {
	keywords []string
	rules    []rule
}

// NewMatcher compiles the regex rules. A pattern that fails to compile is
// logged and ignored; the others still apply.
func NewMatcher(keywords, patterns []string) *Matcher {
	m := &Matcher{}
	for _, kw := range keywords {
		if strings.TrimSpace(kw) != "" {
			m.keywords = append(m.keywords, kw)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			utils.Warn("regex rule ignored", "pattern", p, "error", err)
			continue
		}
		m.rules = append(m.rules, rule{source: p, re: re})
	}
	return m
}

// Match reports the first rule that fires: keywords (case-insensitive
// substring) before regexes.
func (m *Matcher) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return "keyword:" + kw, true
		}
	}
	for _, r := range m.rules {
		if r.re.MatchString(text) {
			return "regex:" + r.source, true
		}
	}
	return "", false
}

// ReadComments parses JSON lines. Malformed lines are logged and skipped.
func ReadComments(r io.Reader) ([]Comment, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var (
		out     []Comment
		invalid int
		lineNo  int
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c Comment
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			utils.Warn("discovery line skipped", "line", lineNo, "error", err)
			invalid++
			continue
		}
		out = append(out, c)
	}
	return out, invalid, scanner.Err()
}

type Summary struct {
	Read        int
	AlreadySeen int
	Matched     int
	Enqueued    int
	Failed      int
}

type Runner struct {
	Matcher   *Matcher
	QueueDir  string
	SeenPath  string
	OnEnqueue func(ctx context.Context, item store.QueueItem)
}

// Run reads the seen set once, processes every comment and writes the set
// once. The seen file is locked for the whole run.
func (r *Runner) Run(ctx context.Context, comments []Comment) (Summary, error) {
	var sum Summary
	release, err := store.LockSeen(r.SeenPath)
	if err != nil {
		return sum, err
	}
	defer release()

	seen, err := store.LoadSeen(r.SeenPath)
	if err != nil {
		return sum, err
	}

	for _, c := range comments {
		if err := ctx.Err(); err != nil {
			break
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		sum.Read++
		id := store.ComputeID(text)
		if seen.Has(id) {
			sum.AlreadySeen++
			continue
		}
		if pattern, ok := r.Matcher.Match(text); ok {
			sum.Matched++
			item, err := store.Enqueue(text, c.URL, pattern, r.QueueDir)
			if err != nil {
				utils.Error("enqueue failed", "id", id, "url", c.URL, "error", err)
				sum.Failed++
				continue
			}
			sum.Enqueued++
			if r.OnEnqueue != nil {
				r.OnEnqueue(ctx, item)
			}
		}
		seen.Add(id)
	}

	if err := store.SaveSeen(r.SeenPath, seen); err != nil {
		return sum, err
	}
	utils.Info("discovery done", "read", sum.Read, "seen", sum.AlreadySeen, "matched", sum.Matched, "enqueued", sum.Enqueued, "failed", sum.Failed)
	return sum, ctx.Err()
}
