// Package usage computes booking usage figures over calendar windows.
// All functions operate on bookings whose Start and End were already resolved
// in the facility's time zone.
package usage

import (
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// DayStart returns local midnight of the day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekStart returns Monday 00:00 of the ISO week containing t, in t's location.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// SameDay reports whether a and b fall on the same calendar day of a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// inWeek reports whether t falls in the ISO week containing ref.
func inWeek(t, ref time.Time) bool {
	start := WeekStart(ref)
	end := start.AddDate(0, 0, 7)
	return !t.Before(start) && t.Before(end)
}

// CountActive counts bookings that start after now.
func CountActive(bookings []domain.Booking, now time.Time) int {
	count := 0
	for i := range bookings {
		if bookings[i].Start.After(now) {
			count++
		}
	}
	return count
}

// CountInWeek counts bookings starting in the ISO week containing ref.
func CountInWeek(bookings []domain.Booking, ref time.Time) int {
	count := 0
	for i := range bookings {
		if inWeek(bookings[i].Start, ref) {
			count++
		}
	}
	return count
}

// CountPrimeInWeek counts prime-time bookings starting in the ISO week containing ref.
func CountPrimeInWeek(bookings []domain.Booking, ref time.Time) int {
	count := 0
	for i := range bookings {
		if bookings[i].IsPrimeTime && inWeek(bookings[i].Start, ref) {
			count++
		}
	}
	return count
}

// CountOnDay counts bookings starting on the calendar day of ref.
func CountOnDay(bookings []domain.Booking, ref time.Time) int {
	count := 0
	for i := range bookings {
		if SameDay(ref, bookings[i].Start) {
			count++
		}
	}
	return count
}

// MinutesOnDay sums the duration of bookings starting on the calendar day of ref.
func MinutesOnDay(bookings []domain.Booking, ref time.Time) int {
	total := 0
	for i := range bookings {
		if SameDay(ref, bookings[i].Start) {
			total += bookings[i].DurationMinutes()
		}
	}
	return total
}

// Lookback returns the earliest day whose bookings any usage figure for a
// booking at ref, evaluated at now, depends on.
func Lookback(ref, now time.Time) time.Time {
	week := WeekStart(ref)
	today := DayStart(now.In(ref.Location()))
	if today.Before(week) {
		return today
	}
	return week
}
