/*
Package analytics composes the read-only dashboard rollup.

PURPOSE:
  Revenue, payment count and average completed payment over a trailing
  period, the number of active schedules, the latest batches and the
  latest payments. Every figure is an independent query, so they run
  concurrently.

SEE ALSO:
  - generic/period.go: Trailing periods
*/
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/rent-engine/bulkpay"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/recurring"
	"github.com/warp/rent-engine/rental"
)

const (
	RecentBatches  = 5
	RecentActivity = 10
)

// Dashboard is the rollup for one organization.
type Dashboard struct {
	Period          generic.PeriodType
	Window          generic.Period
	TotalRevenue    generic.Money
	TotalPayments   int
	AveragePayment  generic.Money
	ActiveSchedules int
	RecentBatches   []bulkpay.Batch
	RecentActivity  []rental.Payment
}

// Service builds dashboards.
type Service struct {
	payments  rental.PaymentStore
	batches   bulkpay.Store
	schedules recurring.Store
	now       func() time.Time
	log       *logrus.Entry
}

// NewService creates an analytics service.
func NewService(payments rental.PaymentStore, batches bulkpay.Store, schedules recurring.Store, logger *logrus.Logger) *Service {
	return &Service{
		payments:  payments,
		batches:   batches,
		schedules: schedules,
		now:       time.Now,
		log:       logger.WithField("component", "analytics"),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Dashboard computes the rollup over the trailing period pt (default month).
func (s *Service) Dashboard(ctx context.Context, orgID generic.OrganizationID, pt generic.PeriodType) (*Dashboard, error) {
	if pt == "" {
		pt = generic.PeriodMonth
	}
	window, err := generic.PeriodEnding(pt, s.now().UTC())
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Period: pt, Window: window}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		totals, err := s.payments.PaymentTotals(ctx, orgID, window)
		if err != nil {
			return fmt.Errorf("payment totals: %w", err)
		}
		d.TotalRevenue = totals.Revenue
		d.TotalPayments = totals.Count
		d.AveragePayment = generic.Average(totals.Revenue, totals.Completed)
		return nil
	})
	g.Go(func() error {
		n, err := s.schedules.CountActiveSchedules(ctx, orgID)
		if err != nil {
			return fmt.Errorf("active schedules: %w", err)
		}
		d.ActiveSchedules = n
		return nil
	})
	g.Go(func() error {
		batches, err := s.batches.ListBatches(ctx, orgID, bulkpay.ListQuery{Limit: RecentBatches})
		if err != nil {
			return fmt.Errorf("recent batches: %w", err)
		}
		d.RecentBatches = batches
		return nil
	})
	g.Go(func() error {
		payments, err := s.payments.RecentPayments(ctx, orgID, RecentActivity)
		if err != nil {
			return fmt.Errorf("recent payments: %w", err)
		}
		d.RecentActivity = payments
		return nil
	})

	log := s.log.WithFields(logrus.Fields{"org": orgID, "period": pt, "window": window.String()})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Dashboard query failed")
		return nil, err
	}
	log.WithField("payments", d.TotalPayments).Debug("Dashboard computed")
	return d, nil
}
