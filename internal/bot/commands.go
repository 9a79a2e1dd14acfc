package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"herbit/internal/fermentation"
	"herbit/internal/service"
)

const helpText = "ℹ️ <b>Perintah</b>\n" +
	"• /link &lt;user id | access token&gt; — hubungkan akun Herbit\n" +
	"• /unlink — putuskan akun\n" +
	"• /timeline — progres fermentasi 90 hari\n" +
	"• /week [1-13] — detail minggu\n" +
	"• /month [1-3] — ringkasan bulan\n" +
	"• /checkin — check-in hari ini (+1 poin)\n" +
	"• /photo &lt;1-3&gt; &lt;url&gt; — foto akhir bulan (+50 poin)\n" +
	"• /waste &lt;kg&gt; — catat sampah organik (10 poin/kg)\n" +
	"• /ferment [kg] — mulai fermentasi\n" +
	"• /claim — klaim poin setelah 90 hari\n" +
	"• /reset — hapus proyek\n" +
	"• /reminders on|off — pengingat harian\n" +
	"• /ask &lt;pertanyaan&gt; — tanya asisten eco-enzyme\n" +
	"• /cancel — batalkan input"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "teman"
	}
	text := fmt.Sprintf("👋 Halo, %s!\n<b>Aku pendamping eco-enzyme Herbit.</b>\n"+
		"Aku bantu mencatat check-in harian, foto tiap bulan dan klaim poin setelah 90 hari fermentasi.\n\n", escape(name))
	if user.Linked() {
		text += "Akunmu sudah terhubung. Ketik /timeline untuk melihat progres."
	} else {
		text += "Mulai dengan menghubungkan akun: /link &lt;user id atau access token&gt;."
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		b.setConversation(msg.From.ID, &conversationState{stage: stageLink})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Kirim user id Herbit (24 karakter) atau isi cookie <code>access_token</code>.", cancelKeyboard())
	}
	return b.link(ctx, msg, args)
}

func (b *Bot) link(ctx context.Context, msg *tgbotapi.Message, credential string) error {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}
	// Tokens should not linger in the chat history.
	if strings.Count(credential, ".") == 2 {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
			b.log.Debug("delete token message", zap.Error(err))
		}
	}

	acc, err := b.accounts.Link(ctx, user, credential)
	if err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	b.clearConversation(msg.From.ID)

	text := fmt.Sprintf("✅ Akun terhubung: <code>%s</code>", escape(acc.UserID))
	if !acc.ExpiresAt.IsZero() {
		text += fmt.Sprintf("\nToken berlaku sampai %s.", acc.ExpiresAt.In(b.timeline.Location()).Format("02.01.2006 15:04"))
	}
	return b.sendText(msg.Chat.ID, text+"\nKetik /timeline untuk melihat progres.")
}

func (b *Bot) handleUnlink(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}
	if err := b.accounts.Unlink(ctx, user); err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	return b.sendText(msg.Chat.ID, "Akun Herbit diputus.")
}

func (b *Bot) handleTimeline(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	return b.showTimeline(ctx, chatID, 0, from)
}

func (b *Bot) showTimeline(ctx context.Context, chatID int64, messageID int, from *tgbotapi.User) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	view, err := b.timeline.View(ctx, user)
	if err != nil {
		return b.sendText(chatID, errorText(err))
	}
	now := b.timeline.Now()
	text := staleNote(view, b.timeline.Location()) + service.Summary(view.Timeline, now)
	return b.editOrSend(chatID, messageID, text, timelineKeyboard(view, now))
}

func (b *Bot) handleWeek(ctx context.Context, msg *tgbotapi.Message, args string) error {
	week := -1
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 || n > fermentation.Weeks {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("Minggu harus 1-%d, contoh: /week 3", fermentation.Weeks))
		}
		week = n - 1
	}
	return b.showWeek(ctx, msg.Chat.ID, 0, msg.From, week)
}

// showWeek renders a 0-based week; -1 selects the active week.
func (b *Bot) showWeek(ctx context.Context, chatID int64, messageID int, from *tgbotapi.User, week int) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	view, err := b.timeline.View(ctx, user)
	if err != nil {
		return b.sendText(chatID, errorText(err))
	}
	if !view.Timeline.Started {
		return b.sendText(chatID, service.Summary(view.Timeline, b.timeline.Now()))
	}
	if week < 0 {
		week = view.Timeline.ActiveWeek
	}
	text := staleNote(view, b.timeline.Location()) + formatWeek(view.Timeline, week)
	return b.editOrSend(chatID, messageID, text, weekKeyboard(week))
}

func (b *Bot) handleMonth(ctx context.Context, msg *tgbotapi.Message, args string) error {
	month := 0
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 || n > fermentation.Months {
			return b.sendText(msg.Chat.ID, "Bulan harus 1, 2 atau 3, contoh: /month 2")
		}
		month = n
	}
	return b.showMonth(ctx, msg.Chat.ID, 0, msg.From, month)
}

// showMonth renders month 1..3; 0 selects the month of the current day.
func (b *Bot) showMonth(ctx context.Context, chatID int64, messageID int, from *tgbotapi.User, month int) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	view, err := b.timeline.View(ctx, user)
	if err != nil {
		return b.sendText(chatID, errorText(err))
	}
	if !view.Timeline.Started {
		return b.sendText(chatID, service.Summary(view.Timeline, b.timeline.Now()))
	}
	if month == 0 {
		month = max(1, fermentation.MonthOf(view.Timeline.CurrentDayIndex))
	}
	text := staleNote(view, b.timeline.Location()) + formatMonth(view.Timeline, month)
	return b.editOrSend(chatID, messageID, text, monthKeyboard(month))
}

func (b *Bot) handleCheckin(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	view, err := b.timeline.CheckIn(ctx, user)
	if err != nil {
		return b.sendText(chatID, errorText(err))
	}
	t := view.Timeline
	return b.sendText(chatID, fmt.Sprintf("✅ Check-in hari ke-%d tercatat (+%d poin).\nTotal %d/%d hari.",
		t.CurrentDayIndex, fermentation.CheckinPoints, t.CheckedDays, fermentation.TotalDays))
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, args string) error {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		b.setConversation(msg.From.ID, &conversationState{stage: stagePhotoMonth})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Foto untuk bulan ke berapa? (1, 2 atau 3)", cancelKeyboard())
	case 1:
		month, err := parseMonth(fields[0])
		if err != nil {
			return b.sendText(msg.Chat.ID, errorText(err))
		}
		b.setConversation(msg.From.ID, &conversationState{stage: stagePhotoURL, month: month})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Kirim URL foto (http/https).", cancelKeyboard())
	default:
		month, err := parseMonth(fields[0])
		if err != nil {
			return b.sendText(msg.Chat.ID, errorText(err))
		}
		return b.uploadPhoto(ctx, msg, month, fields[1])
	}
}

func (b *Bot) uploadPhoto(ctx context.Context, msg *tgbotapi.Message, month int, photoURL string) error {
	user, err := b.linkedUser(ctx, msg.From, msg.Chat.ID)
	if user == nil {
		return err
	}
	view, err := b.timeline.UploadMilestone(ctx, user, month, photoURL)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidPhotoURL) {
			b.clearConversation(msg.From.ID)
		}
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	b.clearConversation(msg.From.ID)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📸 Foto bulan ke-%d tersimpan (+%d poin). Poin foto: %d/%d.",
		month, fermentation.MilestonePhotoPoints, view.Timeline.MilestonePoints, fermentation.TotalMilestonePoints))
}

func (b *Bot) handleClaim(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	view, err := b.timeline.View(ctx, user)
	if err != nil {
		return b.sendText(chatID, errorText(err))
	}
	t := view.Timeline
	switch {
	case view.Project == nil:
		return b.sendText(chatID, errorText(service.ErrNoProject))
	case t.Claimed:
		return b.sendText(chatID, errorText(service.ErrAlreadyClaimed))
	case !t.CanClaimFinal:
		return b.sendText(chatID, "⏳ "+escape(service.BlockerText(t.Eligibility)))
	}
	text := fmt.Sprintf("🎉 Fermentasi selesai!\nKlaim %s pre-poin sekarang?", escape(formatPoints(t.TotalPrePoints)))
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard(cbClaimPrefix))
}

func (b *Bot) claim(ctx context.Context, chatID int64, messageID int, from *tgbotapi.User) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	res, _, err := b.timeline.Claim(ctx, user)
	if err != nil {
		return b.editOrSend(chatID, messageID, errorText(err), noKeyboard())
	}
	text := fmt.Sprintf("🏆 Klaim berhasil! Kamu mendapat <b>%s</b> poin.", escape(formatPoints(res.Points)))
	if res.Message != "" {
		text += "\n" + escape(res.Message)
	}
	return b.editOrSend(chatID, messageID, text, noKeyboard())
}

func (b *Bot) handleWaste(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		b.setConversation(msg.From.ID, &conversationState{stage: stageWaste})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Berapa kg sampah organik? (contoh: 1,5)", cancelKeyboard())
	}
	return b.addWaste(ctx, msg, args)
}

func (b *Bot) addWaste(ctx context.Context, msg *tgbotapi.Message, raw string) error {
	kg, err := parseKg(raw)
	if err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	user, err := b.linkedUser(ctx, msg.From, msg.Chat.ID)
	if user == nil {
		return err
	}
	view, err := b.timeline.AddWaste(ctx, user, kg)
	b.clearConversation(msg.From.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	r := view.Timeline.Recipe
	return b.sendText(msg.Chat.ID, fmt.Sprintf("♻️ %s kg tercatat (+%s pre-poin).\nTotal sampah %s kg.\n🥣 Resep: %s kg gula · %s L air.",
		formatPoints(kg), formatPoints(fermentation.WastePrePoints(kg)), formatPoints(view.Timeline.TotalWeightKg),
		formatPoints(r.SugarKg), formatPoints(r.WaterL)))
}

func (b *Bot) handleFerment(ctx context.Context, msg *tgbotapi.Message, args string) error {
	var kg float64
	if args != "" {
		var err error
		if kg, err = parseKg(args); err != nil {
			return b.sendText(msg.Chat.ID, errorText(err))
		}
	}
	user, err := b.linkedUser(ctx, msg.From, msg.Chat.ID)
	if user == nil {
		return err
	}
	view, err := b.timeline.StartFermentation(ctx, user, kg)
	if err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	t := view.Timeline
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🧪 Fermentasi dimulai %s.\nPanen pada %s. Jangan lupa /checkin setiap hari!",
		t.Anchor.Format("02.01.2006"), t.HarvestDate.Format("02.01.2006")))
}

func (b *Bot) handleReset(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.linkedUser(ctx, msg.From, msg.Chat.ID)
	if user == nil {
		return err
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, "⚠️ Hapus proyek fermentasi beserta semua check-in dan foto?", confirmKeyboard(cbResetPrefix))
}

func (b *Bot) reset(ctx context.Context, chatID int64, messageID int, from *tgbotapi.User) error {
	user, err := b.linkedUser(ctx, from, chatID)
	if user == nil {
		return err
	}
	text := "🗑 Proyek dihapus. Mulai lagi dengan /ferment."
	if err := b.timeline.Reset(ctx, user); err != nil {
		text = errorText(err)
	}
	return b.editOrSend(chatID, messageID, text, noKeyboard())
}

func (b *Bot) handleReminders(ctx context.Context, msg *tgbotapi.Message, args string) error {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}
	switch strings.ToLower(args) {
	case "":
		state := "mati"
		if user.RemindersEnabled {
			state = "aktif"
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Pengingat harian: <b>%s</b>. Ubah dengan /reminders on atau /reminders off.", state))
	case "on", "aktif", "nyala":
		if err := b.accounts.SetReminders(ctx, user, true); err != nil {
			return err
		}
		return b.sendText(msg.Chat.ID, "🔔 Pengingat harian aktif.")
	case "off", "mati":
		if err := b.accounts.SetReminders(ctx, user, false); err != nil {
			return err
		}
		return b.sendText(msg.Chat.ID, "🔕 Pengingat harian dimatikan.")
	default:
		return b.sendText(msg.Chat.ID, "Gunakan /reminders on atau /reminders off.")
	}
}

func (b *Bot) handleAsk(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		b.setConversation(msg.From.ID, &conversationState{stage: stageAsk})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Tulis pertanyaanmu tentang eco-enzyme.", cancelKeyboard())
	}
	return b.ask(ctx, msg, args)
}

func (b *Bot) ask(ctx context.Context, msg *tgbotapi.Message, prompt string) error {
	b.clearConversation(msg.From.ID)
	if _, err := b.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.log.Debug("chat action", zap.Error(err))
	}
	reply, err := b.assistant.Ask(ctx, prompt)
	if err != nil {
		return b.sendText(msg.Chat.ID, errorText(err))
	}
	return b.sendText(msg.Chat.ID, escape(reply))
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageLink:
		return b.link(ctx, msg, text)
	case stagePhotoMonth:
		month, err := parseMonth(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Bulan harus 1, 2 atau 3.", cancelKeyboard())
		}
		b.setConversation(msg.From.ID, &conversationState{stage: stagePhotoURL, month: month})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Kirim URL foto (http/https).", cancelKeyboard())
	case stagePhotoURL:
		return b.uploadPhoto(ctx, msg, state.month, text)
	case stageWaste:
		if _, err := parseKg(text); err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, errorText(err), cancelKeyboard())
		}
		return b.addWaste(ctx, msg, text)
	case stageAsk:
		return b.ask(ctx, msg, text)
	default:
		b.clearConversation(msg.From.ID)
		return nil
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data := cb.Data
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	b.log.Info("callback", zap.Int64("from", cb.From.ID), zap.String("data", data))
	b.ack(cb, "")

	switch {
	case data == cbTimeline:
		return b.showTimeline(ctx, chatID, messageID, cb.From)
	case data == cbCheckin:
		return b.handleCheckin(ctx, chatID, cb.From)
	case strings.HasPrefix(data, cbWeekPrefix):
		week, err := parseIndex(data, cbWeekPrefix, 0, fermentation.Weeks-1)
		if err != nil {
			return nil
		}
		return b.showWeek(ctx, chatID, messageID, cb.From, week)
	case strings.HasPrefix(data, cbMonthPrefix):
		month, err := parseIndex(data, cbMonthPrefix, 1, fermentation.Months)
		if err != nil {
			return nil
		}
		return b.showMonth(ctx, chatID, messageID, cb.From, month)
	case data == cbClaimPrefix+cbYes:
		return b.claim(ctx, chatID, messageID, cb.From)
	case data == cbResetPrefix+cbYes:
		return b.reset(ctx, chatID, messageID, cb.From)
	case data == cbClaimPrefix+cbNo, data == cbResetPrefix+cbNo:
		return b.editOrSend(chatID, messageID, "↩️ Dibatalkan.", noKeyboard())
	default:
		return nil
	}
}

func parseIndex(data, prefix string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("index %d out of range", n)
	}
	return n, nil
}

func parseMonth(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 || n > fermentation.Months {
		return 0, service.ErrInvalidMonth
	}
	return n, nil
}

// parseKg accepts both "1.5" and "1,5", with an optional "kg" suffix.
func parseKg(raw string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimSuffix(s, "kg"))
	s = strings.ReplaceAll(s, ",", ".")
	kg, err := strconv.ParseFloat(s, 64)
	if err != nil || kg <= 0 {
		return 0, service.ErrInvalidWeight
	}
	return kg, nil
}
