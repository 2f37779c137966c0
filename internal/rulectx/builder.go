// Package rulectx assembles the snapshots that booking and cancellation rules
// are evaluated against.
package rulectx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/usage"
)

// Builder reads persisted state and resolves it in the facility's time zone.
// It holds no per-call state and is safe for concurrent use.
type Builder struct {
	repo domain.Repository
	now  func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces the wall clock used for "now".
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a context builder backed by repo.
func NewBuilder(repo domain.Repository, opts ...Option) *Builder {
	b := &Builder{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the rule context for a booking request.
func (b *Builder) Build(ctx context.Context, req domain.BookingRequest) (*domain.RuleContext, error) {
	now := b.now()

	facility, err := b.repo.GetFacility(ctx, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("facility %s: %w", req.FacilityID, err)
	}
	loc := facility.Location()

	start, err := domain.CombineDateTime(req.BookingDate, req.StartTime, loc)
	if err != nil {
		return nil, err
	}
	end, err := domain.CombineDateTime(req.BookingDate, req.EndTime, loc)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end time %s must be after start time %s",
			domain.ErrInvalidInput, req.EndTime, req.StartTime)
	}

	user, err := b.user(ctx, req.UserID, facility.ID)
	if err != nil {
		return nil, err
	}

	court, err := b.repo.GetCourt(ctx, req.CourtID)
	if err != nil {
		return nil, fmt.Errorf("court %s: %w", req.CourtID, err)
	}
	if court.FacilityID != facility.ID {
		return nil, fmt.Errorf("%w: court %s does not belong to facility %s",
			domain.ErrInvalidInput, court.ID, facility.ID)
	}

	strikes, err := b.repo.CountActiveStrikes(ctx, facility.ID, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count strikes: %w", err)
	}
	user.ActiveStrikes = strikes

	since := usage.Lookback(start, now).Format(domain.DateLayout)

	bookings, err := b.repo.ListUserBookings(ctx, facility.ID, user.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}

	household, err := b.household(ctx, facility, user.ID, since)
	if err != nil {
		return nil, err
	}

	// Rules load last: unknown entities must fail even when the rule relation is missing.
	if err := b.loadRules(ctx, facility); err != nil {
		return nil, err
	}

	return &domain.RuleContext{
		Request:          req,
		User:             user,
		Court:            court,
		Facility:         facility,
		Household:        household,
		ExistingBookings: resolve(bookings, facility),
		IsPrimeTime:      facility.IsPrimeTime(start),
		Start:            start,
		End:              end,
		Now:              now,
	}, nil
}

// BuildCancellation assembles the context for cancelling a booking.
func (b *Builder) BuildCancellation(ctx context.Context, req domain.CancellationRequest) (*domain.CancellationContext, error) {
	now := b.now()

	booking, err := b.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", req.BookingID, err)
	}
	if req.UserID != "" && booking.UserID != req.UserID {
		return nil, fmt.Errorf("%w: booking %s does not belong to user %s",
			domain.ErrInvalidInput, booking.ID, req.UserID)
	}

	facility, err := b.repo.GetFacility(ctx, booking.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("facility %s: %w", booking.FacilityID, err)
	}

	resolved := resolve([]domain.Booking{*booking}, facility)
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: booking %s has an invalid schedule", domain.ErrInvalidInput, booking.ID)
	}

	owner, err := b.user(ctx, booking.UserID, facility.ID)
	if err != nil {
		return nil, err
	}

	strikes, err := b.repo.CountActiveStrikes(ctx, facility.ID, owner.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count strikes: %w", err)
	}

	if err := b.loadRules(ctx, facility); err != nil {
		return nil, err
	}

	return &domain.CancellationContext{
		Request:      req,
		Booking:      &resolved[0],
		Facility:     facility,
		PriorStrikes: strikes,
		Now:          now,
		TierID:       owner.TierID,
	}, nil
}

// loadRules attaches the facility's ordered rule configuration.
func (b *Builder) loadRules(ctx context.Context, facility *domain.Facility) error {
	rules, err := b.repo.ListFacilityRules(ctx, facility.ID)
	if err != nil {
		return fmt.Errorf("failed to load rules for facility %s: %w", facility.ID, err)
	}
	facility.Rules = rules
	return nil
}

func (b *Builder) user(ctx context.Context, userID, facilityID string) (*domain.User, error) {
	user, err := b.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if user.FacilityID != facilityID {
		return nil, fmt.Errorf("%w: user %s is not a member of facility %s",
			domain.ErrInvalidInput, user.ID, facilityID)
	}

	if user.TierID == "" {
		return user, nil
	}
	tier, err := b.repo.GetTier(ctx, user.TierID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// A dangling tier reference leaves the user tier-less for rule scoping.
		slog.WarnContext(ctx, "user references unknown tier",
			"user_id", user.ID,
			"tier_id", user.TierID,
		)
		user.TierID = ""
	case err != nil:
		return nil, fmt.Errorf("tier %s: %w", user.TierID, err)
	default:
		user.Tier = tier
	}

	return user, nil
}

// household returns nil when the user belongs to no household of the facility.
func (b *Builder) household(ctx context.Context, facility *domain.Facility, userID, since string) (*domain.Household, error) {
	household, err := b.repo.GetHouseholdByMember(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load household: %w", err)
	}
	if household.FacilityID != facility.ID {
		return nil, nil
	}

	bookings, err := b.repo.ListHouseholdBookings(ctx, facility.ID, household.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load household bookings: %w", err)
	}
	household.Bookings = resolve(bookings, facility)

	return household, nil
}

// resolve fills Start, End and IsPrimeTime. Bookings whose stored schedule
// cannot be parsed are dropped from usage figures.
func resolve(bookings []domain.Booking, facility *domain.Facility) []domain.Booking {
	loc := facility.Location()
	out := make([]domain.Booking, 0, len(bookings))

	for _, bk := range bookings {
		start, err := domain.CombineDateTime(bk.BookingDate, bk.StartTime, loc)
		if err != nil {
			slog.Warn("skipping booking with invalid start", "booking_id", bk.ID, "error", err)
			continue
		}
		end, err := domain.CombineDateTime(bk.BookingDate, bk.EndTime, loc)
		if err != nil {
			slog.Warn("skipping booking with invalid end", "booking_id", bk.ID, "error", err)
			continue
		}

		bk.Start = start
		bk.End = end
		bk.IsPrimeTime = facility.IsPrimeTime(start)
		out = append(out, bk)
	}

	return out
}
