package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PushSubscription is one browser push endpoint for a user.
type PushSubscription struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

const maxSubsPerUser = 10

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

// Save upserts a subscription keyed by endpoint and prunes the oldest ones
// beyond the per-user cap.
func (r *PushRepository) Save(ctx context.Context, sub PushSubscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (endpoint) DO UPDATE SET user_id = $1, p256dh = $3, auth = $4`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions
		 WHERE user_id = $1 AND endpoint NOT IN (
			SELECT endpoint FROM push_subscriptions
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		 )`, sub.UserID, maxSubsPerUser)
	if err != nil {
		return fmt.Errorf("pushRepo.Save prune: %w", err)
	}
	return nil
}

func (r *PushRepository) Delete(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("push.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint)
	if err != nil {
		return fmt.Errorf("pushRepo.Delete: %w", err)
	}
	return nil
}

func (r *PushRepository) ListForUser(ctx context.Context, userID string) ([]PushSubscription, error) {
	defer logger.DeferLogDuration("push.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	subs := make([]PushSubscription, 0, 4)
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("pushRepo.ListForUser scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.ListForUser rows: %w", err)
	}
	return subs, nil
}
