// Package slack posts review announcements through the Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://slack.com/api"

type Client struct {
	HTTP     *http.Client
	BotToken string
	// BaseURL overrides the Web API root; tests point it at httptest.
	BaseURL string
}

func New(botToken string) *Client {
	return &Client{BotToken: botToken}
}

// PostMessage posts text to channel and returns the message ts, which can
// root a thread. threadTS may be empty.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return "", errors.New("bot token missing")
	}
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("channel missing")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text missing")
	}

	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.BotToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("slack chat.postMessage status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		TS      string `json:"ts"`
		Message struct {
			TS string `json:"ts"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", err
	}
	if !decoded.OK {
		if decoded.Error == "" {
			decoded.Error = "chat.postMessage failed"
		}
		return "", errors.New(decoded.Error)
	}
	if decoded.TS != "" {
		return decoded.TS, nil
	}
	return decoded.Message.TS, nil
}

// ReviewText formats the announcement for a finished reply video.
func ReviewText(id, comment, reply, videoPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reply ready for review: `%s`\n", id)
	if comment != "" {
		fmt.Fprintf(&b, "> %s\n", oneLine(comment))
	}
	if reply != "" {
		fmt.Fprintf(&b, "Reply: %s\n", oneLine(reply))
	}
	fmt.Fprintf(&b, "Video: %s\n", videoPath)
	fmt.Fprintf(&b, "Approve with `replybot Moderation:Approve %s`", id)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
