package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramPollTimeout = 60
	selectedMark        = "✅ "
)

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramChannel implements the Channel interface for Telegram Bot API.
type TelegramChannel struct {
	bot      botAPI
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTelegramChannel creates a Telegram channel adapter. It contacts the Bot
// API to verify the token.
func NewTelegramChannel(token string) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required (GEOQUIZ_TELEGRAM_BOT_TOKEN)")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	slog.Info("telegram authorized", "bot", bot.Self.UserName)
	return newTelegramChannel(bot), nil
}

func newTelegramChannel(bot botAPI) *TelegramChannel {
	return &TelegramChannel{
		bot:  bot,
		stop: make(chan struct{}),
	}
}

// SyncCommands publishes the bot's command menu.
func (t *TelegramChannel) SyncCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Começar de novo"},
		tgbotapi.BotCommand{Command: "quiz", Description: "Escolher um país e jogar"},
	)
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("set telegram commands: %w", err)
	}
	return nil
}

func (t *TelegramChannel) SendTyping(_ context.Context, userID string) error {
	chatID, err := parseChatID(userID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("sending typing indicator: %w", err)
	}
	return nil
}

func (t *TelegramChannel) SendMessage(_ context.Context, userID string, msg OutboundMessage) error {
	chatID, err := parseChatID(userID)
	if err != nil {
		return err
	}

	if msg.EditMessageID != 0 && msg.RequestLocation == nil && !msg.RemoveKeyboard {
		edit := tgbotapi.NewEditMessageText(chatID, msg.EditMessageID, msg.Text)
		if len(msg.Buttons) > 0 {
			markup := inlineKeyboard(msg.Buttons)
			edit.ReplyMarkup = &markup
		}
		_, err := t.bot.Send(edit)
		if err != nil && strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		if err != nil {
			return fmt.Errorf("editing Telegram message: %w", err)
		}
		return nil
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	switch {
	case msg.RequestLocation != nil:
		kb := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation(msg.RequestLocation.ShareLabel)),
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(msg.RequestLocation.DeclineLabel)),
		)
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		out.ReplyMarkup = kb
	case msg.RemoveKeyboard:
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	case len(msg.Buttons) > 0:
		out.ReplyMarkup = inlineKeyboard(msg.Buttons)
	}

	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("sending Telegram message: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context, handler func(InboundMessage)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	go t.pollLoop(ctx, updates, newUserQueue(handler))
	return nil
}

func (t *TelegramChannel) Stop() error {
	t.stopOnce.Do(func() {
		t.bot.StopReceivingUpdates()
		close(t.stop)
	})
	return nil
}

// pollLoop dispatches updates through a per-chat queue so each chat's
// events reach the handler in the order Telegram delivered them.
func (t *TelegramChannel) pollLoop(ctx context.Context, updates tgbotapi.UpdatesChannel, queue *userQueue) {
	slog.Info("Telegram long-polling started")
	defer slog.Info("Telegram long-polling stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.CallbackQuery != nil {
				// Stops the client-side spinner on the pressed button.
				if _, err := t.bot.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
					slog.Warn("failed to answer telegram callback", "error", err)
				}
			}
			msg, ok := mapTelegramInbound(u)
			if !ok {
				continue
			}
			queue.push(msg)
		}
	}
}

func mapTelegramInbound(u tgbotapi.Update) (InboundMessage, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return InboundMessage{}, false
		}
		msg := InboundMessage{
			Channel:   "telegram",
			UserID:    strconv.FormatInt(cq.Message.Chat.ID, 10),
			Action:    cq.Data,
			MessageID: cq.Message.MessageID,
		}
		return msg, true
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		return InboundMessage{}, false
	}

	msg := InboundMessage{
		Channel: "telegram",
		UserID:  strconv.FormatInt(m.Chat.ID, 10),
		Text:    strings.TrimSpace(m.Text),
	}
	if m.Location != nil {
		msg.Location = &Location{
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
		}
	}
	if msg.Text == "" && msg.Location == nil {
		return InboundMessage{}, false
	}
	return msg, true
}

func inlineKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			label := b.Label
			if b.Selected {
				label = selectedMark + label
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, b.Action))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func parseChatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}
	return id, nil
}
