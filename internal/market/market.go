// Package market provides the Korean exchange calendar and trading windows.
package market

import "time"

// KST is the timezone for the Korean exchange.
var KST *time.Location

func init() {
	var err error
	KST, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		KST = time.FixedZone("KST", 9*60*60)
	}
}

// Status represents the current market status.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusClosingCall   Status = "CLOSING_CALL" // 15:20-15:30, sells only
	StatusClosed        Status = "CLOSED"
	StatusHolidayClosed Status = "HOLIDAY"
)

// Fixed-date public holidays that close the exchange in every year.
var fixedHolidays = map[[2]int]bool{
	{1, 1}:   true, // New Year's Day
	{3, 1}:   true, // Independence Movement Day
	{5, 5}:   true, // Children's Day
	{6, 6}:   true, // Memorial Day
	{8, 15}:  true, // Liberation Day
	{10, 3}:  true, // National Foundation Day
	{10, 9}:  true, // Hangul Day
	{12, 25}: true, // Christmas
}

// Lunar-calendar holidays and substitute days move each year; maintained per
// year from the KRX closing-day notice.
var yearHolidays = map[int][][2]int{
	2024: {
		// Seollal, general election, substitute Children's Day,
		// Buddha's Birthday, Chuseok, Armed Forces Day, year-end closing.
		{2, 9}, {2, 12},
		{4, 10},
		{5, 6}, {5, 15},
		{9, 16}, {9, 17}, {9, 18},
		{10, 1},
		{12, 31},
	},
	2025: {
		// Seollal, Buddha's Birthday substitute, Chuseok, year-end closing.
		{1, 28}, {1, 29}, {1, 30},
		{5, 6},
		{10, 5}, {10, 6}, {10, 7}, {10, 8},
		{12, 31},
	},
}

// IsTradingDay reports whether t falls on a weekday that is not an exchange
// holiday.
func IsTradingDay(t time.Time) bool {
	t = t.In(KST)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !isHoliday(t)
}

func isHoliday(t time.Time) bool {
	md := [2]int{int(t.Month()), t.Day()}
	if fixedHolidays[md] {
		return true
	}
	for _, h := range yearHolidays[t.Year()] {
		if h == md {
			return true
		}
	}
	return false
}

// minuteOfDay in KST.
func minuteOfDay(t time.Time) int {
	t = t.In(KST)
	return t.Hour()*60 + t.Minute()
}

// IsOpen reports whether the market session (including the closing call
// auction) is in progress at t.
func IsOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= 9*60 && m <= 15*60+30
}

// InBuyWindow reports whether buy orders may be placed at t. Buys stop ten
// minutes before the matching close so confirmation polling can run before
// the session ends.
func InBuyWindow(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= 9*60 && m <= 15*60+20
}

// InSellWindow reports whether sell orders may be placed at t (until close).
func InSellWindow(t time.Time) bool {
	return IsOpen(t)
}

// CurrentStatus returns the market status at t.
func CurrentStatus(t time.Time) Status {
	t = t.In(KST)
	if !IsTradingDay(t) {
		if isHoliday(t) {
			return StatusHolidayClosed
		}
		return StatusClosed
	}
	m := minuteOfDay(t)
	switch {
	case m >= 15*60+20 && m <= 15*60+30:
		return StatusClosingCall
	case m >= 9*60 && m < 15*60+20:
		return StatusOpen
	default:
		return StatusClosed
	}
}

// Today returns t's calendar date in KST as YYYYMMDD, the format disclosure
// receipt dates arrive in.
func Today(t time.Time) string {
	return t.In(KST).Format("20060102")
}

// NextTradingDay returns the first trading day strictly after t's date.
func NextTradingDay(t time.Time) time.Time {
	d := t.In(KST)
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, KST)
		}
	}
	return d
}
