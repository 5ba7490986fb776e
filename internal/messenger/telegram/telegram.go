// Package telegram implements the Messenger capability against the
// Telegram Bot API: one bot account serving every subscriber, addressed
// by their chat ID, with inline Place/Ignore buttons on each notification.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/forwardfactor/scanner/internal/messenger"
	"github.com/forwardfactor/scanner/pkg/logger"
)

// Messenger sends signal notifications through a single Telegram bot and
// turns inline-button taps into decision callbacks.
type Messenger struct {
	bot *tgbotapi.BotAPI
	log *logger.Logger
}

// New builds a Messenger from a bot token.
func New(botToken string, log *logger.Logger) (*Messenger, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &Messenger{bot: bot, log: log}, nil
}

func actionLabel(a messenger.Action) string {
	switch a {
	case messenger.ActionPlace:
		return "Place"
	case messenger.ActionIgnore:
		return "Ignore"
	default:
		return string(a)
	}
}

// callbackData packs the signal ID and action into the button's callback
// payload; Telegram round-trips it back on tap untouched.
func callbackData(signalID string, action messenger.Action) string {
	return fmt.Sprintf("%s:%s", signalID, action)
}

// Send posts payload.Text with one inline button per action.
func (m *Messenger) Send(ctx context.Context, chatID int64, payload messenger.Payload, actions []messenger.Action) (string, error) {
	msg := tgbotapi.NewMessage(chatID, payload.Text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if len(actions) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
		for _, a := range actions {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(actionLabel(a), callbackData(payload.SignalID, a)))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	sent, err := m.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram: send: %w", err)
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

// Callbacks long-polls Telegram updates and translates CallbackQuery taps
// into decision events. The returned channel closes when ctx is canceled.
func (m *Messenger) Callbacks(ctx context.Context) (<-chan messenger.Callback, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := m.bot.GetUpdatesChan(u)

	out := make(chan messenger.Callback)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				m.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				cb := update.CallbackQuery
				if cb == nil || cb.Message == nil {
					continue
				}
				signalID, action, ok := parseCallbackData(cb.Data)
				if !ok {
					m.log.Warn("telegram: unrecognized callback data", logger.StringField("data", cb.Data))
					continue
				}
				ack := tgbotapi.NewCallback(cb.ID, "")
				if _, err := m.bot.Request(ack); err != nil {
					m.log.Warn("telegram: ack callback failed", logger.ErrorField(err))
				}

				select {
				case out <- messenger.Callback{
					MessageID: fmt.Sprintf("%d", cb.Message.MessageID),
					ChatID:    cb.Message.Chat.ID,
					SignalID:  signalID,
					Action:    action,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func parseCallbackData(data string) (signalID string, action messenger.Action, ok bool) {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == ':' {
			a := messenger.Action(data[i+1:])
			if a == messenger.ActionPlace || a == messenger.ActionIgnore {
				return data[:i], a, true
			}
			return "", "", false
		}
	}
	return "", "", false
}
