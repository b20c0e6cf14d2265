package chat

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"utmrelay/internal/logging"
)

// Telegram reads messages through the Bot API with long polling. The bot
// must be a member (or admin, for channels) of the notification chat.
type Telegram struct {
	token string
}

func NewTelegram(token string) *Telegram {
	return &Telegram{token: token}
}

// Messages starts long polling and converts updates to Messages.
func (t *Telegram) Messages(ctx context.Context) (<-chan Message, error) {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	log := logging.With("telegram")
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := bot.GetUpdatesChan(u)

	out := make(chan Message)
	go func() {
		defer close(out)
		defer bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg, ok := FromUpdate(upd)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// FromUpdate extracts the text message carried by upd. Channel posts have
// no user sender; the posting chat stands in for it.
func FromUpdate(upd tgbotapi.Update) (Message, bool) {
	m := upd.Message
	if m == nil {
		m = upd.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return Message{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return Message{}, false
	}

	var sender int64
	switch {
	case m.From != nil:
		sender = m.From.ID
	case m.SenderChat != nil:
		sender = m.SenderChat.ID
	default:
		sender = m.Chat.ID
	}

	return Message{
		SenderID:  sender,
		ChatID:    m.Chat.ID,
		Text:      text,
		Timestamp: m.Time(),
	}, true
}
