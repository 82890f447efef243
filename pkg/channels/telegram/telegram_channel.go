package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"vocalis/pkg/api"
	"vocalis/pkg/pipeline"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig encapsulates the credentials required to authenticate
// with the Telegram Bot API.
type TelegramConfig struct {
	Token        string `json:"token"`         // The secret BOT API string provided by @BotFather
	MessageLimit int    `json:"message_limit"` // Maximum character count per message bubble
}

// TelegramChannel is the production implementation of api.Channel for the
// Telegram platform. Telegram has no mid-message streaming, so responses
// are accumulated and flushed as complete bubbles.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

func NewTelegramChannel(cfg TelegramConfig) (api.Channel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = 4000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: limit,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start runs the long-polling update loop in a background goroutine and
// maps platform updates into the internal UnifiedMessage format.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil || update.Message.Text == "" {
					continue
				}

				session := api.SessionContext{
					ChannelID: "telegram",
					UserID:    strconv.FormatInt(update.Message.From.ID, 10),
					ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
					Username:  update.Message.From.UserName,
				}

				ctx.OnMessage(t.ID(), &api.UnifiedMessage{
					Session: session,
					Content: update.Message.Text,
					Raw:     update.Message,
				})
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel()
	return nil
}

// SendSignal implements the api.SignalingChannel interface
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal == "thinking" {
		chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
		if err != nil {
			return err
		}
		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		_, err = t.bot.Send(action)
		return err
	}
	return nil
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	if totalLen <= t.messageLimit {
		msg := tgbotapi.NewMessage(chatID, message)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	// Send long message in chunks
	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		msg := tgbotapi.NewMessage(chatID, string(msgRunes[i:end]))
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}

// Stream implements the streaming response protocol for Telegram using
// an accumulate-then-flush strategy: tokens aggregate until the stream
// ends, then go out as one (possibly chunked) bubble.
func (t *TelegramChannel) Stream(session api.SessionContext, tokens <-chan pipeline.Token) error {
	var textBuf strings.Builder
	var errBuf strings.Builder

	for tok := range tokens {
		if tok.Err != nil {
			errBuf.WriteString(fmt.Sprintf("\n❌ %v", tok.Err))
			continue
		}
		textBuf.WriteString(tok.Text)
	}

	if errBuf.Len() > 0 {
		if err := t.Send(session, errBuf.String()); err != nil {
			slog.Error("Failed to send error bubble", "error", err)
		}
	}

	if textBuf.Len() > 0 {
		return t.Send(session, textBuf.String())
	}
	return nil
}
