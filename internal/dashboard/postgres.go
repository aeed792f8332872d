package dashboard

import (
	"context"
	"database/sql"
	"errors"

	"crmdesk.io/internal/store/pg"
)

// PGStore reads dashboard data from PostgreSQL.
type PGStore struct {
	q pg.DBTX
}

func NewPGStore(q pg.DBTX) *PGStore {
	return &PGStore{q: q}
}

func (s *PGStore) Stats(ctx context.Context, userID int64) (Stats, error) {
	var st Stats
	err := s.q.QueryRowContext(ctx,
		`select total_purchases, total_spent_cents, rewards_points from users where id=$1`, userID).
		Scan(&st.TotalPurchases, &st.TotalSpentCents, &st.RewardsPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	return st, err
}

func (s *PGStore) Activity(ctx context.Context, userID int64, limit int) ([]Activity, error) {
	rows, err := s.q.QueryContext(ctx,
		`select id, text, icon, time from user_activity where user_id=$1 order by time desc, id desc limit $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Activity{}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Text, &a.Icon, &a.Time); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Insights(ctx context.Context, userID int64, limit int) ([]Insight, error) {
	rows, err := s.q.QueryContext(ctx,
		`select id, title, text, icon, date from user_insights where user_id=$1 order by date desc, id desc limit $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Insight{}
	for rows.Next() {
		var in Insight
		if err := rows.Scan(&in.ID, &in.Title, &in.Text, &in.Icon, &in.Date); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PGStore) Notifications(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := s.q.QueryContext(ctx,
		`select id, text, icon, time, read from user_notifications where user_id=$1 order by time desc, id desc`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Text, &n.Icon, &n.Time, &n.Read); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
