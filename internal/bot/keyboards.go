package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"herbit/internal/fermentation"
	"herbit/internal/service"
)

const (
	cbTimeline    = "timeline"
	cbCheckin     = "checkin"
	cbWeekPrefix  = "week:"
	cbMonthPrefix = "month:"
	cbClaimPrefix = "claim:"
	cbResetPrefix = "reset:"
	cbYes         = "yes"
	cbNo          = "no"
)

const (
	btnCancel         = "↩️ Batal"
	menuLabelTimeline = "📊 Timeline"
	menuLabelCheckin  = "✅ Check-in"
	menuLabelWeek     = "🗓 Minggu ini"
	menuLabelHelp     = "ℹ️ Bantuan"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTimeline),
			tgbotapi.NewKeyboardButton(menuLabelCheckin),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelWeek),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// confirmKeyboard asks yes or no for the action behind prefix.
func confirmKeyboard(prefix string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Ya", prefix+cbYes),
			tgbotapi.NewInlineKeyboardButtonData("↩️ Batal", prefix+cbNo),
		),
	)
}

func timelineKeyboard(view service.View, now time.Time) tgbotapi.InlineKeyboardMarkup {
	t := view.Timeline
	var rows [][]tgbotapi.InlineKeyboardButton

	if !t.Started {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Perbarui", cbTimeline)),
		)
	}

	open := t.CurrentDayIndex >= 1 && fermentation.ElapsedDays(t.Anchor, now) < fermentation.TotalDays
	if open && !t.Claimed && !view.Stale && !t.CheckedToday() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ Check-in hari ke-%d", t.CurrentDayIndex), cbCheckin),
		))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗓 Minggu ini", fmt.Sprintf("%s%d", cbWeekPrefix, t.ActiveWeek)),
		tgbotapi.NewInlineKeyboardButtonData("🔄 Perbarui", cbTimeline),
	))

	months := make([]tgbotapi.InlineKeyboardButton, 0, fermentation.Months)
	for m := 1; m <= fermentation.Months; m++ {
		months = append(months, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Bulan %d", m), fmt.Sprintf("%s%d", cbMonthPrefix, m)))
	}
	rows = append(rows, months)

	if t.CanClaimFinal && !view.Stale {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎉 Klaim poin", cbClaimPrefix+cbYes),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// weekKeyboard navigates between the 0-based weeks.
func weekKeyboard(week int) tgbotapi.InlineKeyboardMarkup {
	var nav []tgbotapi.InlineKeyboardButton
	if week > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("◀️", fmt.Sprintf("%s%d", cbWeekPrefix, week-1)))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("📊 Timeline", cbTimeline))
	if week < fermentation.Weeks-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("▶️", fmt.Sprintf("%s%d", cbWeekPrefix, week+1)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(nav)
}

func monthKeyboard(month int) tgbotapi.InlineKeyboardMarkup {
	var nav []tgbotapi.InlineKeyboardButton
	for m := 1; m <= fermentation.Months; m++ {
		label := fmt.Sprintf("Bulan %d", m)
		if m == month {
			label = "• " + label + " •"
		}
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%d", cbMonthPrefix, m)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		nav,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 Timeline", cbTimeline)),
	)
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "batal" || value == "cancel"
}

// noKeyboard removes the inline buttons of an edited message.
func noKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
}
