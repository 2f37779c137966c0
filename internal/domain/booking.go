package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date and clock layouts used on the wire and in storage.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Booking statuses.
const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Account and court statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusClosed    = "closed"
)

// BookingRequest is a proposed reservation produced by the booking-creation flow.
type BookingRequest struct {
	UserID      string `json:"userId" validate:"required"`
	FacilityID  string `json:"facilityId" validate:"required"`
	CourtID     string `json:"courtId" validate:"required"`
	BookingDate string `json:"bookingDate" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"startTime" validate:"required,clock"`
	EndTime     string `json:"endTime" validate:"required,clock"`
	BookingType string `json:"bookingType" validate:"required"`
}

// CancellationRequest identifies a booking the user wants to cancel.
type CancellationRequest struct {
	BookingID string `json:"bookingId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

// Booking is a persisted reservation.
// Start, End and IsPrimeTime are resolved by the rule context builder in the
// facility's time zone and are never stored.
type Booking struct {
	ID          string    `json:"id"`
	FacilityID  string    `json:"facilityId"`
	CourtID     string    `json:"courtId"`
	UserID      string    `json:"userId"`
	BookingDate string    `json:"bookingDate"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	BookingType string    `json:"bookingType"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`

	Start       time.Time `json:"-"`
	End         time.Time `json:"-"`
	IsPrimeTime bool      `json:"-"`
}

// DurationMinutes returns the resolved length of the booking.
func (b *Booking) DurationMinutes() int {
	return int(b.End.Sub(b.Start) / time.Minute)
}

// Tier is a membership classification that scopes which rules apply.
type Tier struct {
	ID         string `json:"id"`
	FacilityID string `json:"facilityId"`
	Name       string `json:"name"`
}

// User is a facility member.
type User struct {
	ID         string `json:"id"`
	FacilityID string `json:"facilityId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	TierID     string `json:"tierId,omitempty"`
	Status     string `json:"status"`

	// Populated by the rule context builder.
	Tier          *Tier `json:"tier,omitempty"`
	ActiveStrikes int   `json:"activeStrikes"`
}

// Court is a bookable resource of a facility.
type Court struct {
	ID         string `json:"id"`
	FacilityID string `json:"facilityId"`
	Name       string `json:"name"`
	SportType  string `json:"sportType"`
	Status     string `json:"status"`
}

// Facility owns courts, members and its own rule configuration.
type Facility struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Timezone         string            `json:"timezone"`
	PrimeTimeWindows []PrimeTimeWindow `json:"primeTimeWindows"`

	// Rules are the configured rules in evaluation order.
	Rules []FacilityRuleConfig `json:"rules,omitempty"`
}

// Location resolves the facility time zone, falling back to UTC.
func (f *Facility) Location() *time.Location {
	if f.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsPrimeTime reports whether an instant falls in any prime-time window.
func (f *Facility) IsPrimeTime(t time.Time) bool {
	local := t.In(f.Location())
	for _, w := range f.PrimeTimeWindows {
		if w.Contains(local) {
			return true
		}
	}
	return false
}

// PrimeTimeWindow is a recurring high-demand window.
// Days uses time.Weekday numbering (0 = Sunday); empty means every day.
type PrimeTimeWindow struct {
	Days  []int  `json:"days,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether t (already in facility local time) starts inside the window.
func (w PrimeTimeWindow) Contains(t time.Time) bool {
	if len(w.Days) > 0 {
		match := false
		for _, d := range w.Days {
			if time.Weekday(d) == t.Weekday() {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	start, err := ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	return minute >= start && minute < end
}

// Household groups linked accounts that share household-level limits.
type Household struct {
	ID         string   `json:"id"`
	FacilityID string   `json:"facilityId"`
	Name       string   `json:"name"`
	MemberIDs  []string `json:"memberIds"`

	// Bookings of every member, populated by the rule context builder.
	Bookings []Booking `json:"-"`
}

// Strike is a penalty recorded against a user for a late cancellation.
type Strike struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	FacilityID string     `json:"facilityId"`
	BookingID  string     `json:"bookingId"`
	Reason     string     `json:"reason"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the strike still counts at the given instant.
func (s *Strike) Active(at time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(at)
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidInput, s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidInput, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidInput, s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidInput, s)
	}

	return h*60 + m, nil
}

// CombineDateTime resolves a booking date and clock time into an instant.
func CombineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidInput, date)
	}
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, loc), nil
}
