package settlement

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stats is the read-only settlement aggregate exposed to admin tooling.
// Amounts are minor currency units.
type Stats struct {
	TodaySettled  int64 `json:"today_settled"`
	PendingAmount int64 `json:"pending_amount"`
	TotalSettled  int64 `json:"total_settled"`
}

// GetStats aggregates today's, pending and lifetime settled amounts. The
// three scans are independent and run concurrently.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&OrderSettlement{}).
			Select("COALESCE(SUM(order_amount), 0)").
			Where("status = ? AND settle_time >= ?", StatusSettled, startOfDay).
			Scan(&stats.TodaySettled).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&OrderSettlement{}).
			Select("COALESCE(SUM(order_amount), 0)").
			Where("status = ?", StatusPending).
			Scan(&stats.PendingAmount).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Model(&OrderSettlement{}).
			Select("COALESCE(SUM(order_amount), 0)").
			Where("status = ?", StatusSettled).
			Scan(&stats.TotalSettled).Error
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}
