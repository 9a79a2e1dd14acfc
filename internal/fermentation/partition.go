package fermentation

import (
	"math"
	"time"
)

// DayState is one cell of the timeline.
type DayState struct {
	DayIndex  int       `json:"dayIndex"`
	Date      time.Time `json:"date"`
	Unlocked  bool      `json:"unlocked"`
	Checked   bool      `json:"checked"`
	CheckedAt time.Time `json:"checkedAt,omitempty"`
}

// MonthSummary holds completion statistics for a 30-day month.
type MonthSummary struct {
	Month     int       `json:"month"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	StartDate time.Time `json:"startDate,omitempty"`
	EndDate   time.Time `json:"endDate,omitempty"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Pct       int       `json:"pct"`
}

// WeekBucket is a 7-day slice of the window. The last week is cut short at day 90.
type WeekBucket struct {
	WeekIndex int        `json:"weekIndex"`
	Start     int        `json:"start"`
	End       int        `json:"end"`
	Month     int        `json:"month"`
	Days      []DayState `json:"days"`
}

// MonthRange returns the first and last day of month 1..3.
func MonthRange(month int) (start, end int, ok bool) {
	if month < 1 || month > Months {
		return 0, 0, false
	}
	start = (month-1)*DaysPerMonth + 1
	end = min(month*DaysPerMonth, TotalDays)
	return start, end, true
}

// MonthOf returns the month a day index belongs to.
func MonthOf(dayIndex int) int {
	if dayIndex < 1 {
		return 0
	}
	return min(Months, (dayIndex+DaysPerMonth-1)/DaysPerMonth)
}

// WeekRange returns the first and last day of week 0..12.
func WeekRange(week int) (start, end int, ok bool) {
	if week < 0 || week >= Weeks {
		return 0, 0, false
	}
	start = week*DaysPerWeek + 1
	end = min((week+1)*DaysPerWeek, TotalDays)
	return start, end, true
}

// ActiveWeek is the week holding the current day.
func ActiveWeek(currentDay int) int {
	if currentDay <= 0 {
		return 0
	}
	return min(Weeks-1, (currentDay-1)/DaysPerWeek)
}

// DominantMonth returns the month overlapping the day range the most; ties go to
// the lower month. Ranges outside the window return 0.
func DominantMonth(startDay, endDay int) int {
	best, bestDays := 0, 0
	for month := 1; month <= Months; month++ {
		ms, me, _ := MonthRange(month)
		days := min(endDay, me) - max(startDay, ms) + 1
		if days > bestDays {
			best, bestDays = month, days
		}
	}
	return best
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func dayState(dayIndex int, checkins Checkins, anchor time.Time, currentDay int) DayState {
	ci := checkins[dayIndex]
	return DayState{
		DayIndex:  dayIndex,
		Date:      dateOrZero(anchor, dayIndex),
		Unlocked:  Unlocked(dayIndex, currentDay),
		Checked:   ci.Checked,
		CheckedAt: ci.At,
	}
}

// Summarize computes the summary for a month.
func Summarize(month int, checkins Checkins, anchor time.Time, currentDay int) MonthSummary {
	start, end, ok := MonthRange(month)
	if !ok {
		return MonthSummary{Month: month}
	}
	s := MonthSummary{
		Month:     month,
		Start:     start,
		End:       end,
		StartDate: dateOrZero(anchor, start),
		EndDate:   dateOrZero(anchor, end),
		Total:     end - start + 1,
	}
	for day := start; day <= end; day++ {
		if checkins[day].Checked {
			s.Done++
		}
	}
	s.Pct = percent(s.Done, s.Total)
	return s
}

// WeekBuckets splits the window into weeks. Month 0 returns all 13 weeks; months
// 1..3 return the weeks whose dominant month is that month.
func WeekBuckets(month int, checkins Checkins, anchor time.Time, currentDay int) []WeekBucket {
	buckets := make([]WeekBucket, 0, Weeks)
	for week := 0; week < Weeks; week++ {
		start, end, _ := WeekRange(week)
		dominant := DominantMonth(start, end)
		if month != 0 && dominant != month {
			continue
		}
		days := make([]DayState, 0, end-start+1)
		for day := start; day <= end; day++ {
			days = append(days, dayState(day, checkins, anchor, currentDay))
		}
		buckets = append(buckets, WeekBucket{
			WeekIndex: week,
			Start:     start,
			End:       end,
			Month:     dominant,
			Days:      days,
		})
	}
	return buckets
}
