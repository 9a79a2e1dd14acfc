package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"herbit/internal/metrics"
	"herbit/internal/model"
	"herbit/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageLink
	stagePhotoMonth
	stagePhotoURL
	stageWaste
	stageAsk
)

type conversationState struct {
	stage conversationStage
	month int
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	accounts      *service.AccountService
	timeline      *service.TimelineService
	reminders     *service.ReminderService
	assistant     *service.AssistantService
	log           *zap.Logger
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

// Services groups what the bot needs from the service layer.
type Services struct {
	Accounts  *service.AccountService
	Timeline  *service.TimelineService
	Reminders *service.ReminderService
	Assistant *service.AssistantService
}

func New(token string, svc Services, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("bot authorized", zap.String("account", api.Self.UserName))

	return &Bot{
		api:           api,
		accounts:      svc.Accounts,
		timeline:      svc.Timeline,
		reminders:     svc.Reminders,
		assistant:     svc.Assistant,
		log:           log,
		conversations: make(map[int64]*conversationState),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error("handle callback", zap.String("data", update.CallbackQuery.Data), zap.Error(err))
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error("handle message", zap.Int64("chat", update.Message.Chat.ID), zap.Error(err))
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Dibatalkan.")
	}

	if msg.IsCommand() {
		b.log.Info("command",
			zap.Int64("from", msg.From.ID),
			zap.String("command", msg.Command()),
		)
		metrics.IncBotCommand(msg.Command())
		return b.handleCommand(ctx, msg)
	}

	if state := b.getConversation(msg.From.ID); state != nil {
		return b.handleConversation(ctx, msg, state)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	return b.sendText(msg.Chat.ID, "Aku belum paham pesannya. Ketik /timeline untuk melihat progres atau /help untuk daftar perintah.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.sendText(msg.Chat.ID, helpText)
	case "link":
		return b.handleLink(ctx, msg, args)
	case "unlink":
		return b.handleUnlink(ctx, msg)
	case "timeline":
		return b.handleTimeline(ctx, msg.Chat.ID, msg.From)
	case "week":
		return b.handleWeek(ctx, msg, args)
	case "month":
		return b.handleMonth(ctx, msg, args)
	case "checkin":
		return b.handleCheckin(ctx, msg.Chat.ID, msg.From)
	case "photo":
		return b.handlePhoto(ctx, msg, args)
	case "claim":
		return b.handleClaim(ctx, msg.Chat.ID, msg.From)
	case "waste":
		return b.handleWaste(ctx, msg, args)
	case "ferment":
		return b.handleFerment(ctx, msg, args)
	case "reset":
		return b.handleReset(ctx, msg)
	case "reminders":
		return b.handleReminders(ctx, msg, args)
	case "ask":
		return b.handleAsk(ctx, msg, args)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Dibatalkan.")
	default:
		return b.sendText(msg.Chat.ID, "Perintah tidak dikenal. Lihat /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTimeline):
		return true, b.handleTimeline(ctx, msg.Chat.ID, msg.From)
	case strings.ToLower(menuLabelCheckin):
		return true, b.handleCheckin(ctx, msg.Chat.ID, msg.From)
	case strings.ToLower(menuLabelWeek):
		return true, b.handleWeek(ctx, msg, "")
	case strings.ToLower(menuLabelHelp):
		return true, b.sendText(msg.Chat.ID, helpText)
	default:
		return false, nil
	}
}

// SendReminders delivers the pending reminders of every linked user.
func (b *Bot) SendReminders(ctx context.Context) error {
	users, err := b.accounts.ListLinked(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pending, err := b.reminders.Pending(ctx, user)
		if err != nil {
			b.log.Warn("build reminders", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
			continue
		}
		for _, r := range pending {
			if err := b.sendText(chatOf(user), r.Text); err != nil {
				b.log.Warn("send reminder", zap.Int64("telegram_id", user.TelegramID), zap.String("kind", string(r.Kind)), zap.Error(err))
				b.reminders.Failed(ctx, user, r)
				continue
			}
			metrics.IncReminder(string(r.Kind))
		}
	}
	return nil
}

func chatOf(user model.User) int64 {
	if user.ChatID != 0 {
		return user.ChatID
	}
	return user.TelegramID
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*model.User, error) {
	return b.accounts.Ensure(ctx, service.TelegramProfile{
		TelegramID: from.ID,
		ChatID:     chatID,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
		Username:   from.UserName,
	})
}

// linkedUser returns the user when a Herbit account is attached; otherwise it
// tells the user how to link and returns nil.
func (b *Bot) linkedUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*model.User, error) {
	user, err := b.ensureUser(ctx, from, chatID)
	if err != nil {
		return nil, err
	}
	if !user.Linked() {
		return nil, b.sendText(chatID, "🔗 Hubungkan akun Herbit dulu dengan /link &lt;user id atau access token&gt;.")
	}
	return user, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

// editOrSend replaces the message a button belongs to, or sends a new one.
func (b *Bot) editOrSend(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	if messageID == 0 {
		return b.sendWithReplyMarkup(chatID, text, markup)
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return err
	}
	return nil
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Debug("callback ack", zap.Error(err))
	}
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
