// Package dashboard serves the read-only figures shown on an invited user's
// home screen: account totals, recent activity, insights and notifications.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Stats when the user does not exist.
var ErrNotFound = errors.New("dashboard: not found")

// Limits applied by the HTTP surface.
const (
	ActivityLimit = 10
	InsightLimit  = 5
)

type Stats struct {
	TotalPurchases  int64
	TotalSpentCents int64
	RewardsPoints   int64
}

// TotalSpent renders the spent amount with two decimals.
func (s Stats) TotalSpent() string {
	return fmt.Sprintf("%d.%02d", s.TotalSpentCents/100, s.TotalSpentCents%100)
}

type Activity struct {
	ID   int64
	Text string
	Icon string
	Time time.Time
}

type Insight struct {
	ID    int64
	Title string
	Text  string
	Icon  string
	Date  time.Time
}

type Notification struct {
	ID   int64
	Text string
	Icon string
	Time time.Time
	Read bool
}

// Reader is implemented by PGStore and MemoryStore. Lists are newest first.
type Reader interface {
	Stats(ctx context.Context, userID int64) (Stats, error)
	Activity(ctx context.Context, userID int64, limit int) ([]Activity, error)
	Insights(ctx context.Context, userID int64, limit int) ([]Insight, error)
	Notifications(ctx context.Context, userID int64) ([]Notification, error)
}
