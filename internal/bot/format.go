package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"herbit/internal/auth"
	"herbit/internal/ecoenzim"
	"herbit/internal/fermentation"
	"herbit/internal/service"
)

var weekdayShort = [...]string{"Min", "Sen", "Sel", "Rab", "Kam", "Jum", "Sab"}

func escape(s string) string {
	return html.EscapeString(s)
}

// formatWeek renders the days of a 0-based week.
func formatWeek(t fermentation.Timeline, week int) string {
	if week < 0 || week >= len(t.Weeks) {
		return "Minggu tidak ditemukan."
	}
	w := t.Weeks[week]
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗓 <b>Minggu %d</b> · hari %d-%d · bulan %d\n\n", w.WeekIndex+1, w.Start, w.End, w.Month))
	done := 0
	for _, d := range w.Days {
		b.WriteString(formatDay(d, t.CurrentDayIndex))
		b.WriteByte('\n')
		if d.Checked {
			done++
		}
	}
	b.WriteString(fmt.Sprintf("\n%d/%d hari check-in", done, len(w.Days)))
	return b.String()
}

func formatDay(d fermentation.DayState, current int) string {
	icon := "🔒"
	switch {
	case d.Checked:
		icon = "✅"
	case d.Unlocked && d.DayIndex == current:
		icon = "👉"
	case d.Unlocked:
		icon = "⬜"
	}
	line := fmt.Sprintf("%s Hari %d", icon, d.DayIndex)
	if !d.Date.IsZero() {
		line += fmt.Sprintf(" · %s %s", weekdayShort[d.Date.Weekday()], d.Date.Format("02.01"))
	}
	if d.Checked && !d.CheckedAt.IsZero() {
		line += " · " + d.CheckedAt.In(d.Date.Location()).Format("15:04")
	}
	return line
}

// formatMonth renders the summary of month 1..3 and its weeks.
func formatMonth(t fermentation.Timeline, month int) string {
	if month < 1 || month > len(t.Months) {
		return "Bulan tidak ditemukan."
	}
	m := t.Months[month-1]
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📆 <b>Bulan %d</b> · hari %d-%d\n", m.Month, m.Start, m.End))
	if !m.StartDate.IsZero() {
		b.WriteString(fmt.Sprintf("%s – %s\n", m.StartDate.Format("02.01.2006"), m.EndDate.Format("02.01.2006")))
	}
	b.WriteString(fmt.Sprintf("Check-in %d/%d · %d%%\n", m.Done, m.Total, m.Pct))

	if photo, ok := t.Photos[month]; ok {
		b.WriteString(fmt.Sprintf("📸 <a href=\"%s\">Foto bulan %d</a>\n", escape(photo.URL), month))
	} else if t.Milestones[month] {
		b.WriteString(fmt.Sprintf("📸 Foto bulan %d sudah tercatat\n", month))
	} else if fermentation.MilestoneDue(month, t.CurrentDayIndex) {
		b.WriteString(fmt.Sprintf("📸 Foto belum diunggah: /photo %d &lt;url&gt;\n", month))
	} else {
		b.WriteString(fmt.Sprintf("📸 Foto dibuka pada hari %d\n", month*fermentation.DaysPerMonth))
	}

	b.WriteString("\n")
	for _, w := range t.Weeks {
		if w.Month != month {
			continue
		}
		done := 0
		for _, d := range w.Days {
			if d.Checked {
				done++
			}
		}
		marker := ""
		if w.WeekIndex == t.ActiveWeek && t.CurrentDayIndex >= 1 {
			marker = " 👈"
		}
		b.WriteString(fmt.Sprintf("Minggu %d (hari %d-%d): %d/%d%s\n", w.WeekIndex+1, w.Start, w.End, done, len(w.Days), marker))
	}
	return strings.TrimSpace(b.String())
}

// staleNote prefixes views served from the local snapshot.
func staleNote(view service.View, loc *time.Location) string {
	if !view.Stale {
		return ""
	}
	return fmt.Sprintf("⚠️ <i>Server tidak dapat dihubungi. Data terakhir %s.</i>\n\n", view.FetchedAt.In(loc).Format("02.01.2006 15:04"))
}

func formatPoints(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// errorText maps service errors to user-facing messages.
func errorText(err error) string {
	var apiErr *ecoenzim.APIError
	switch {
	case errors.Is(err, service.ErrNotLinked):
		return "🔗 Hubungkan akun Herbit dulu dengan /link."
	case errors.Is(err, service.ErrNoProject):
		return "Belum ada proyek aktif. Mulai dengan /ferment atau /waste &lt;kg&gt;."
	case errors.Is(err, service.ErrAlreadyStarted):
		return "Fermentasi sudah berjalan. Lihat /timeline."
	case errors.Is(err, service.ErrNotStarted):
		return "Fermentasi belum dimulai."
	case errors.Is(err, service.ErrDayLocked):
		return "🔒 Check-in hanya bisa dilakukan selama 90 hari fermentasi."
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		return "Kamu sudah check-in hari ini 👍"
	case errors.Is(err, service.ErrMilestoneNotDue):
		return "⏳ Foto bulan ini belum bisa diunggah. " + escape(strings.TrimPrefix(err.Error(), service.ErrMilestoneNotDue.Error()+": "))
	case errors.Is(err, service.ErrMilestoneExists):
		return "Foto bulan ini sudah diunggah."
	case errors.Is(err, service.ErrInvalidMonth):
		return "Bulan harus 1, 2 atau 3."
	case errors.Is(err, service.ErrInvalidPhotoURL):
		return "URL foto tidak valid. Gunakan tautan http atau https."
	case errors.Is(err, service.ErrInvalidWeight):
		return "Berat tidak valid, minimal 0,15 kg dan maksimal 500 kg. Contoh: /waste 1,5"
	case errors.Is(err, service.ErrNotEligible):
		return "⏳ Belum bisa klaim. Lihat /timeline untuk detailnya."
	case errors.Is(err, service.ErrAlreadyClaimed):
		return "Poin proyek ini sudah diklaim."
	case errors.Is(err, service.ErrEmptyPrompt):
		return "Pertanyaannya kosong."
	case errors.Is(err, auth.ErrInvalidUserID), errors.Is(err, auth.ErrEmptyCredential):
		return "User id tidak valid. Gunakan 24 karakter heksadesimal atau access token."
	case errors.Is(err, auth.ErrTokenExpired):
		return "Access token sudah kedaluwarsa. Login ulang di web lalu kirim token baru."
	case errors.Is(err, auth.ErrNoSubject):
		return "Access token tidak memuat user id."
	case errors.Is(err, ecoenzim.ErrUnavailable):
		return "⚠️ Server Herbit sedang tidak dapat dihubungi. Coba lagi nanti."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("⚠️ Server menolak permintaan (%d).", apiErr.Status)
	default:
		return "⚠️ Terjadi kesalahan. Coba lagi nanti."
	}
}
