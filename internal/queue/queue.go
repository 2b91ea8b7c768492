// Package queue is a thin RabbitMQ client for handing item ids between
// discovery and render workers.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"replybot/internal/utils"
)

const (
	CommentEnqueued = "comment_enqueued"
	ReplyRendered   = "reply_rendered"
)

// ErrInvalidPayload marks a message body that can never be handled.
var ErrInvalidPayload = errors.New("invalid queue payload")

// Payload is the body carried on both queues. Hostname pins a message to the
// worker that owns the item's files; VideoPath is set on reply_rendered.
type Payload struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	VideoPath string `json:"video_path,omitempty"`
}

// DecodePayload parses a message body and requires a non-blank id.
func DecodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return Payload{}, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	return p, nil
}

type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

type Message struct {
	Body []byte
	ack  func(bool) error
	nack func(bool, bool) error
}

func New(url string) (*Client, error) {
	utils.Info("queue connect", "url", redactURL(url))
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{conn: conn, ch: ch, declared: map[string]bool{}}, nil
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.User == nil {
		return parsed.String()
	}
	username := parsed.User.Username()
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(username, "REDACTED")
	} else {
		parsed.User = url.User(username)
	}
	return parsed.String()
}

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ensureQueue declares a durable queue once per client.
func (c *Client) ensureQueue(name string) error {
	if c.declared[name] {
		return nil
	}
	utils.Debug("queue declare", "queue", name)
	if _, err := c.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	c.declared[name] = true
	return nil
}

// PublishPayload publishes a persistent JSON message to queueName.
func (c *Client) PublishPayload(queueName string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queueName, err)
	}
	if err := c.ensureQueue(queueName); err != nil {
		return err
	}
	utils.Info("queue publish", "queue", queueName, "id", p.ID)
	return c.ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (c *Client) Pop(queueName string) (*Message, error) {
	utils.Debug("queue pop", "queue", queueName)
	if err := c.ensureQueue(queueName); err != nil {
		return nil, err
	}
	msg, ok, err := c.ch.Get(queueName, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		utils.Debug("queue empty", "queue", queueName)
		return nil, nil
	}
	utils.Info("queue received", "queue", queueName, "bytes", len(msg.Body))
	return &Message{
		Body: msg.Body,
		ack:  msg.Ack,
		nack: msg.Nack,
	}, nil
}

// NewMessage builds a message with explicit settlement callbacks, for callers
// that feed RunQueue from something other than RabbitMQ.
func NewMessage(body []byte, ack func(multiple bool) error, nack func(multiple, requeue bool) error) *Message {
	return &Message{Body: body, ack: ack, nack: nack}
}

func (m *Message) Ack() error {
	if m == nil || m.ack == nil {
		return nil
	}
	utils.Debug("queue ack")
	return m.ack(false)
}

func (m *Message) Nack(requeue bool) error {
	if m == nil || m.nack == nil {
		return nil
	}
	utils.Debug("queue nack", "requeue", requeue)
	return m.nack(false, requeue)
}
