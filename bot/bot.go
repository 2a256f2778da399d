package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/services"
)

// StatusProvider is what the bot reports on /status
type StatusProvider interface {
	Status() services.DutyStatus
	CurrentPrincipal() *models.Principal
}

// Bot is the dispatch channel on Telegram
type Bot struct {
	api            *tgbotapi.BotAPI
	dispatchChatID int64
	status         StatusProvider
}

// New initializes the Telegram Bot
func New(token string, dispatchChatID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = false
	logrus.WithField("account", api.Self.UserName).Info("🤖 Telegram bot authorized")

	return &Bot{api: api, dispatchChatID: dispatchChatID}, nil
}

// SetStatusProvider enables /status
func (b *Bot) SetStatusProvider(p StatusProvider) {
	b.status = p
}

// Send delivers a Markdown message to the dispatch chat
func (b *Bot) Send(message string) error {
	if b.dispatchChatID == 0 {
		return fmt.Errorf("dispatch chat id not set")
	}
	msg := tgbotapi.NewMessage(b.dispatchChatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := b.api.Send(msg)
	return err
}

// StartPolling answers commands until ctx is done
func (b *Bot) StartPolling(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	go func() {
		for update := range updates {
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			msg := tgbotapi.NewMessage(update.Message.Chat.ID, b.reply(update.Message.Chat.ID, update.Message.Command()))
			msg.ParseMode = tgbotapi.ModeMarkdown
			if _, err := b.api.Send(msg); err != nil {
				logrus.WithError(err).Warn("⚠️ Bot send error")
			}
		}
	}()
}

func (b *Bot) reply(chatID int64, command string) string {
	switch command {
	case "start", "help":
		return "🚓 *Patrol duty tracker*\n\n" +
			"*Commands:*\n" +
			"/status - duty state and last reported position\n" +
			"/getid - this chat's id"

	case "getid":
		return fmt.Sprintf("Chat ID: `%d`", chatID)

	case "status":
		if b.dispatchChatID != 0 && chatID != b.dispatchChatID {
			return "⛔ This chat is not the dispatch chat"
		}
		if b.status == nil {
			return "Status is not available"
		}
		return formatStatus(b.status.CurrentPrincipal(), b.status.Status())

	default:
		return "Unknown command, use /help"
	}
}

func formatStatus(p *models.Principal, st services.DutyStatus) string {
	if p == nil {
		return "👤 Nobody is signed in"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 *%s*\n", strings.TrimSpace(p.Rank+" "+p.FullName))
	fmt.Fprintf(&sb, "📋 State: `%s`\n", st.State)
	if st.Tracking {
		sb.WriteString("📡 Tracking: on\n")
	} else {
		sb.WriteString("📴 Tracking: off\n")
	}
	if st.LastSynced != nil {
		fmt.Fprintf(&sb, "📍 Last position: `%.5f, %.5f` ±%.0fm at %s\n",
			st.LastSynced.Latitude, st.LastSynced.Longitude, st.LastSynced.Accuracy,
			st.LastSynced.UpdatedAt.Format("15:04:05"))
	}
	if st.ConsecutiveFailures > 0 {
		fmt.Fprintf(&sb, "⚠️ Sync failures: %d\n", st.ConsecutiveFailures)
	}
	return strings.TrimRight(sb.String(), "\n")
}
