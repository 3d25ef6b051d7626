// Package period implements the two time units used by the bank: calendar months
// for deposit terms and savings interest, and fixed 30-day accrual periods for
// fixed-deposit interest. They are intentionally different.
package period

import (
	"fmt"
	"time"
)

const (
	// AccrualDays is the length of one fixed-deposit accrual period.
	AccrualDays = 30

	day = 24 * time.Hour
)

// AddMonths adds n calendar months to t, rolling the year and clamping the
// day-of-month to the last day of the target month (Jan 31 + 1 = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := DaysInMonth(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysBetween returns the whole days elapsed from -> to, floored like a
// timedelta's day component (negative spans round toward minus infinity).
func DaysBetween(from, to time.Time) int64 {
	d := to.Sub(from)
	days := int64(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

// CompletePeriods returns how many whole accrual periods fit in days.
func CompletePeriods(days int64) int64 {
	if days < AccrualDays {
		return 0
	}
	return days / AccrualDays
}

// AddAccrualPeriods advances t by exactly n * 30 days.
func AddAccrualPeriods(t time.Time, n int64) time.Time {
	return t.Add(time.Duration(n*AccrualDays) * day)
}

// MonthTag identifies the calendar month containing t, e.g. "2024-03".
func MonthTag(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
