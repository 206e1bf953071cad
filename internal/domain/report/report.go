// Package report provides read-only aggregates over the redemption ledger
// and the idempotent deactivation sweep, the subsystem's only batch
// operation.
package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/perkforge/redemption/internal/domain/promo"
)

// bulkValidateConcurrency bounds the number of in-flight catalog lookups
// during a bulk validation.
const bulkValidateConcurrency = 8

// Stats summarizes the usage of a single promotion code.
type Stats struct {
	Code             string
	Percentage       int
	Active           bool
	ExpiresAt        *time.Time
	TotalRedemptions int64
	// TotalDiscount is the sum of recorded discount amounts in minor units.
	TotalDiscount int64
	// RemainingUses is the projected number of redemptions left, -1 for
	// unlimited codes.
	RemainingUses int64
}

// CodeCount pairs a code with its redemption count for top-codes rankings.
type CodeCount struct {
	Code  string
	Count int64
}

// Report aggregates ledger activity over a time period.
type Report struct {
	Start            time.Time
	End              time.Time
	TotalRedemptions int64
	// TotalDiscount is the period's revenue impact: the sum of discount
	// amounts in minor units.
	TotalDiscount int64
	TopCodes      []CodeCount
}

// Source provides the durable aggregate reads the service needs.
type Source interface {
	// CodeUsage returns the redemption count and summed discount for a code.
	CodeUsage(ctx context.Context, code string) (count, totalDiscount int64, err error)
	// PeriodUsage returns the redemption count and summed discount within
	// [start, end).
	PeriodUsage(ctx context.Context, start, end time.Time) (count, totalDiscount int64, err error)
	// TopCodes returns up to limit codes ordered by redemption count.
	TopCodes(ctx context.Context, start, end time.Time, limit int) ([]CodeCount, error)
	// DeactivateExpiredOrExhausted deactivates every active code that is
	// past its expiry or has reached its usage limit, returning the number
	// of codes transitioned. Already-inactive codes are untouched, so the
	// operation is idempotent.
	DeactivateExpiredOrExhausted(ctx context.Context, now time.Time) (int64, error)
}

// BulkResult is the outcome of validating one code in a bulk request.
type BulkResult struct {
	Code  string
	Valid bool
	// Reason holds the human-readable rejection when Valid is false.
	Reason string
}

// Service exposes usage statistics, period reports, bulk validation, and the
// deactivation sweep to administrative collaborators.
type Service struct {
	source    Source
	catalog   promo.Catalog
	validator *promo.Validator
	now       func() time.Time
}

// NewService creates a reporting Service.
func NewService(source Source, catalog promo.Catalog, validator *promo.Validator) *Service {
	return &Service{
		source:    source,
		catalog:   catalog,
		validator: validator,
		now:       time.Now,
	}
}

// UsageStats returns usage statistics for a single code.
func (s *Service) UsageStats(ctx context.Context, code string) (*Stats, error) {
	snap, err := s.catalog.FindByCode(ctx, promo.Normalize(code))
	if err != nil {
		return nil, err
	}

	count, totalDiscount, err := s.source.CodeUsage(ctx, snap.Code)
	if err != nil {
		return nil, errors.Wrap(err, "code usage")
	}

	return &Stats{
		Code:             snap.Code,
		Percentage:       snap.Percentage,
		Active:           snap.Active,
		ExpiresAt:        snap.ExpiresAt,
		TotalRedemptions: count,
		TotalDiscount:    totalDiscount,
		RemainingUses:    snap.RemainingUses(),
	}, nil
}

// UsageReport aggregates ledger activity over [start, end).
func (s *Service) UsageReport(ctx context.Context, start, end time.Time) (*Report, error) {
	if end.Before(start) {
		return nil, errors.New("report period end before start")
	}

	count, totalDiscount, err := s.source.PeriodUsage(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "period usage")
	}

	top, err := s.source.TopCodes(ctx, start, end, 10)
	if err != nil {
		return nil, errors.Wrap(err, "top codes")
	}

	return &Report{
		Start:            start,
		End:              end,
		TotalRedemptions: count,
		TotalDiscount:    totalDiscount,
		TopCodes:         top,
	}, nil
}

// BulkValidate validates a batch of codes concurrently. Results keep the
// input order. Validation rejections become structured results; only
// storage failures abort the batch.
func (s *Service) BulkValidate(ctx context.Context, codes []string) ([]BulkResult, error) {
	results := make([]BulkResult, len(codes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkValidateConcurrency)

	for i, code := range codes {
		g.Go(func() error {
			results[i] = BulkResult{Code: promo.Normalize(code)}

			_, err := s.validator.ValidateCode(ctx, code)
			switch {
			case err == nil:
				results[i].Valid = true
			case errors.Is(err, promo.ErrCodeBlank),
				errors.Is(err, promo.ErrCodeNotFound),
				errors.Is(err, promo.ErrCodeInactive),
				errors.Is(err, promo.ErrCodeExpired),
				errors.Is(err, promo.ErrCodeLimitReached):
				results[i].Reason = err.Error()
			default:
				return errors.Wrapf(err, "validate %q", code)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// DeactivateExpiredOrExhausted runs the deactivation sweep. Safe to run
// repeatedly; returns the number of codes deactivated by this run.
func (s *Service) DeactivateExpiredOrExhausted(ctx context.Context) (int64, error) {
	n, err := s.source.DeactivateExpiredOrExhausted(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "deactivation sweep")
	}
	return n, nil
}
