package notify

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamSenderSend(t *testing.T) {
	mr := miniredis.RunT(t)
	sender, err := NewRedisStreamSender(RedisSenderConfig{Addr: mr.Addr(), Stream: "test:mail"})
	require.NoError(t, err)
	defer sender.Close()

	ctx := context.Background()
	err = sender.Send(ctx, Message{
		To:       "bob@example.com",
		Subject:  "Request to sign the document Lease",
		HTMLBody: "<p>hi</p>",
		Attachment: &Attachment{
			Filename:    "lease.pdf",
			ContentType: "application/pdf",
			Data:        []byte("signed by alice"),
		},
	})
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(ctx, "test:mail", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "bob@example.com", values["to"])
	assert.Equal(t, "lease.pdf", values["attachment_name"])
	decoded, err := base64.StdEncoding.DecodeString(values["attachment_b64"].(string))
	require.NoError(t, err)
	assert.Equal(t, "signed by alice", string(decoded))
}

func TestRedisStreamSenderWithoutAttachment(t *testing.T) {
	mr := miniredis.RunT(t)
	sender, err := NewRedisStreamSender(RedisSenderConfig{Addr: mr.Addr(), Stream: "test:mail"})
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.Send(context.Background(), Message{To: "office@example.com", Subject: "done"}))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(context.Background(), "test:mail", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, hasAttachment := entries[0].Values["attachment_b64"]
	assert.False(t, hasAttachment)
}

func TestRedisStreamSenderFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	sender, err := NewRedisStreamSender(RedisSenderConfig{Addr: mr.Addr(), Stream: "test:mail"})
	require.NoError(t, err)
	defer sender.Close()
	mr.Close()

	assert.Error(t, sender.Send(context.Background(), Message{To: "x@example.com"}))
}

func TestNewRedisStreamSenderValidates(t *testing.T) {
	_, err := NewRedisStreamSender(RedisSenderConfig{Stream: "s"})
	assert.Error(t, err)
	_, err = NewRedisStreamSender(RedisSenderConfig{Addr: "127.0.0.1:6379"})
	assert.Error(t, err)
}
