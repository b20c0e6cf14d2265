// Package chat delivers text messages from the notification chat.
package chat

import (
	"context"
	"strings"
	"time"
)

// Message is one chat message.
type Message struct {
	SenderID  int64
	ChatID    int64
	Text      string
	Timestamp time.Time
}

// Source streams messages until ctx is cancelled, then closes the channel.
type Source interface {
	Messages(ctx context.Context) (<-chan Message, error)
}

// ParseStart returns the payload of a "/start <token>" handshake. The
// command may carry a bot mention ("/start@relay_bot <token>").
func ParseStart(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return "", false
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd != "/start" {
		return "", false
	}
	return fields[1], true
}
