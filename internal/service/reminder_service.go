package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"herbit/internal/fermentation"
	"herbit/internal/model"
	"herbit/internal/repository"
)

// reminderRetention is how long delivery records are kept.
const reminderRetention = 30 * 24 * time.Hour

// Reminder is a notification ready to be sent.
type Reminder struct {
	Kind model.ReminderKind
	Text string
}

// ReminderService builds human-readable summaries and the daily reminders.
type ReminderService struct {
	timeline  *TimelineService
	reminders *repository.ReminderRepository
	log       *zap.Logger
}

func NewReminderService(timeline *TimelineService, reminders *repository.ReminderRepository, log *zap.Logger) *ReminderService {
	return &ReminderService{timeline: timeline, reminders: reminders, log: log}
}

// Pending returns the reminders a user should get today that were not sent yet.
// Each returned reminder is already recorded as sent; call Failed when delivery
// does not go through.
func (s *ReminderService) Pending(ctx context.Context, user model.User) ([]Reminder, error) {
	if !user.Linked() || !user.RemindersEnabled {
		return nil, nil
	}
	view, err := s.timeline.View(ctx, &user)
	if err != nil {
		return nil, err
	}
	if view.Stale {
		s.log.Debug("skip reminders on stale snapshot", zap.String("herbit_user", user.HerbitUserID))
		return nil, nil
	}

	now := s.timeline.Now()
	day := now.Format(time.DateOnly)
	var out []Reminder
	for _, r := range DueReminders(view.Timeline, now) {
		sent, err := s.reminders.MarkSent(ctx, user.ID, r.Kind, day, now)
		if err != nil {
			return out, err
		}
		if sent {
			out = append(out, r)
		}
	}
	return out, nil
}

// Failed forgets a reminder so the next run retries it.
func (s *ReminderService) Failed(ctx context.Context, user model.User, r Reminder) {
	day := s.timeline.Now().Format(time.DateOnly)
	if err := s.reminders.Forget(ctx, user.ID, r.Kind, day); err != nil {
		s.log.Warn("forget reminder", zap.Uint("user", user.ID), zap.String("kind", string(r.Kind)), zap.Error(err))
	}
}

// Prune drops delivery records older than the retention window.
func (s *ReminderService) Prune(ctx context.Context) (int64, error) {
	cutoff := s.timeline.Now().Add(-reminderRetention).Format(time.DateOnly)
	return s.reminders.PruneBefore(ctx, cutoff)
}

// DueReminders lists what the timeline asks of the user today.
func DueReminders(t fermentation.Timeline, now time.Time) []Reminder {
	if !t.Started || t.Claimed {
		return nil
	}
	var out []Reminder

	open := t.CurrentDayIndex >= 1 && fermentation.ElapsedDays(t.Anchor, now) < fermentation.TotalDays
	if open && !t.CheckedToday() {
		out = append(out, Reminder{
			Kind: model.ReminderCheckin,
			Text: fmt.Sprintf("🌱 <b>Hari ke-%d dari %d</b>\nKamu belum check-in hari ini. Ketik /checkin untuk mencatat fermentasi.",
				t.CurrentDayIndex, fermentation.TotalDays),
		})
	}

	for month := 1; month <= fermentation.Months; month++ {
		if t.Milestones[month] || !fermentation.MilestoneDue(month, t.CurrentDayIndex) {
			continue
		}
		out = append(out, Reminder{
			Kind: model.ReminderMilestone,
			Text: fmt.Sprintf("📸 Saatnya unggah foto bulan ke-%d (+%d poin).\nKirim dengan /photo %d &lt;url&gt;.",
				month, fermentation.MilestonePhotoPoints, month),
		})
		break
	}

	if t.CanClaimFinal {
		out = append(out, Reminder{
			Kind: model.ReminderClaim,
			Text: "🎉 Fermentasi 90 hari selesai! Klaim poinmu dengan /claim.",
		})
	}
	return out
}

// Summary renders the timeline as an HTML message.
func Summary(t fermentation.Timeline, now time.Time) string {
	var b strings.Builder
	b.WriteString("🧪 <b>Eco-Enzyme</b>\n")

	if !t.Started {
		b.WriteString("Fermentasi belum dimulai.\n")
		if t.TotalWeightKg > 0 {
			writeRecipe(&b, t.Recipe)
		}
		b.WriteString("Mulai dengan /ferment &lt;kg&gt; atau catat sampah organik dengan /waste &lt;kg&gt;.")
		return b.String()
	}

	loc := t.Anchor.Location()
	b.WriteString(fmt.Sprintf("🗓 Mulai %s · Panen %s\n",
		t.Anchor.Format("02.01.2006"), t.HarvestDate.In(loc).Format("02.01.2006")))

	switch {
	case t.Claimed:
		b.WriteString("✅ <b>Sudah diklaim</b>\n")
	case t.CurrentDayIndex == 0:
		b.WriteString("⏳ Fermentasi dimulai besok.\n")
	default:
		b.WriteString(fmt.Sprintf("📍 Hari ke-<b>%d</b> dari %d · minggu %d\n",
			t.CurrentDayIndex, fermentation.TotalDays, t.ActiveWeek+1))
	}
	b.WriteString(fmt.Sprintf("%s %d%% · sisa %d hari\n", progressBar(t.ProgressPct, 10), t.ProgressPct, t.DaysRemaining))
	b.WriteString(fmt.Sprintf("✔️ Check-in: %d/%d hari\n", t.CheckedDays, fermentation.TotalDays))

	if t.Started && !t.Claimed && t.CurrentDayIndex >= 1 {
		if t.CheckedToday() {
			b.WriteString("   Hari ini sudah check-in 👍\n")
		} else if fermentation.ElapsedDays(t.Anchor, now) < fermentation.TotalDays {
			b.WriteString("   Hari ini belum check-in\n")
		}
	}

	b.WriteString("\n<b>Bulan</b>\n")
	for _, m := range t.Months {
		icon := "⬜"
		if t.Milestones[m.Month] {
			icon = "📸"
		}
		b.WriteString(fmt.Sprintf("%s Bulan %d (hari %d-%d): %d/%d · %d%%\n", icon, m.Month, m.Start, m.End, m.Done, m.Total, m.Pct))
	}

	b.WriteString(fmt.Sprintf("\n⭐ Pre-poin: %s · poin foto %d/%d\n",
		formatNumber(t.TotalPrePoints), t.MilestonePoints, fermentation.TotalMilestonePoints))
	if t.TotalWeightKg > 0 {
		writeRecipe(&b, t.Recipe)
	}

	switch {
	case t.Claimed:
	case t.CanClaimFinal:
		b.WriteString("\n🎉 Siap diklaim! Ketik /claim.")
	case t.Eligibility.CurrentDay >= fermentation.TotalDays:
		b.WriteString("\n" + html.EscapeString(BlockerText(t.Eligibility)))
	}
	return strings.TrimSpace(b.String())
}

func writeRecipe(b *strings.Builder, r fermentation.Recipe) {
	b.WriteString(fmt.Sprintf("🥣 Resep: %s kg sampah · %s kg gula · %s L air\n",
		formatNumber(r.WasteKg), formatNumber(r.SugarKg), formatNumber(r.WaterL)))
}

// BlockerText explains in one line why the reward cannot be claimed.
func BlockerText(e fermentation.Eligibility) string {
	var parts []string
	for _, b := range e.Blockers {
		switch b {
		case fermentation.BlockerNotStarted:
			parts = append(parts, "fermentasi belum dimulai")
		case fermentation.BlockerWindowOpen:
			parts = append(parts, fmt.Sprintf("baru hari ke-%d", e.CurrentDay))
		case fermentation.BlockerMissingCheckins:
			parts = append(parts, fmt.Sprintf("%d hari belum check-in", fermentation.TotalDays-e.CheckedDays))
		case fermentation.BlockerMissingMilestone:
			months := make([]string, 0, len(e.MissingMilestones))
			for _, m := range e.MissingMilestones {
				months = append(months, fmt.Sprint(m))
			}
			parts = append(parts, "foto bulan "+strings.Join(months, ", ")+" belum ada")
		case fermentation.BlockerAlreadyClaimed:
			parts = append(parts, "sudah diklaim")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Belum bisa klaim: " + strings.Join(parts, "; ") + "."
}

func progressBar(pct, width int) string {
	filled := pct * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}

func formatNumber(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
