package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/otp-dispatch/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const defaultInboxMaxItems = 100

// Inbox keeps the newest in-app messages per recipient in a capped list.
type Inbox struct {
	client   goredis.Cmdable
	maxItems int64
}

func NewInbox(client goredis.Cmdable, maxItems int) (*Inbox, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if maxItems <= 0 {
		maxItems = defaultInboxMaxItems
	}
	return &Inbox{client: client, maxItems: int64(maxItems)}, nil
}

func (i *Inbox) Push(ctx context.Context, recipient string, msg domain.InboxMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode inbox message: %w", err)
	}

	key := inboxKey(recipient)
	_, err = i.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, i.maxItems-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push inbox message: %w", err)
	}
	return nil
}

// List returns up to limit messages, newest first.
func (i *Inbox) List(ctx context.Context, recipient string, limit int) ([]domain.InboxMessage, error) {
	if limit <= 0 || int64(limit) > i.maxItems {
		limit = int(i.maxItems)
	}

	raw, err := i.client.LRange(ctx, inboxKey(recipient), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	messages := make([]domain.InboxMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.InboxMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode inbox message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func inboxKey(recipient string) string {
	return "inbox:" + strings.ToLower(strings.TrimSpace(recipient))
}
