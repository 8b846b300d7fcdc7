package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSender appends messages to a Redis stream drained by an external mailer
type RedisStreamSender struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisSenderConfig configures the stream sender
type RedisSenderConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisStreamSender validates the config and creates the client
func NewRedisStreamSender(cfg RedisSenderConfig) (*RedisStreamSender, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("mail stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamSender{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

func (r *RedisStreamSender) Send(ctx context.Context, msg Message) error {
	values := map[string]any{
		"to":         msg.To,
		"subject":    msg.Subject,
		"html_body":  msg.HTMLBody,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if att := msg.Attachment; att != nil {
		values["attachment_name"] = att.Filename
		values["attachment_type"] = att.ContentType
		values["attachment_b64"] = base64.StdEncoding.EncodeToString(att.Data)
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// Close releases the redis client
func (r *RedisStreamSender) Close() error {
	return r.client.Close()
}
