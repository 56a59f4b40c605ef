package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContactRepository stores the mutual contact graph and pending follow
// requests. Contact rows are symmetric: both (a,b) and (b,a) exist.
type ContactRepository struct {
	pool *pgxpool.Pool
}

func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// CreateRequest records a pending follow request. Returns false if the pair
// are already contacts or the request already exists.
func (r *ContactRepository) CreateRequest(ctx context.Context, fromID, toID string) (bool, error) {
	defer logger.DeferLogDuration("contact.CreateRequest", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM contacts WHERE user_id = $1 AND contact_id = $2
			UNION ALL
			SELECT 1 FROM contact_requests WHERE from_id = $1 AND to_id = $2
		 )`, fromID, toID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contactRepo.CreateRequest check: %w", err)
	}
	if exists {
		return false, nil
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO contact_requests (from_id, to_id, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		fromID, toID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("contactRepo.CreateRequest insert: %w", err)
	}
	return true, nil
}

// ListRequests returns pending requests addressed to userID with the
// requester's public profile attached.
func (r *ContactRepository) ListRequests(ctx context.Context, userID string) ([]model.ContactRequest, error) {
	defer logger.DeferLogDuration("contact.ListRequests", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT cr.from_id, cr.to_id, cr.created_at, u.id, u.name, u.about, u.avatar_url
		 FROM contact_requests cr
		 JOIN users u ON u.id = cr.from_id
		 WHERE cr.to_id = $1
		 ORDER BY cr.created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("contactRepo.ListRequests query: %w", err)
	}
	defer rows.Close()

	reqs := make([]model.ContactRequest, 0, 8)
	for rows.Next() {
		var req model.ContactRequest
		from := &model.UserPublic{}
		if err := rows.Scan(&req.FromID, &req.ToID, &req.CreatedAt,
			&from.ID, &from.Name, &from.About, &from.AvatarURL); err != nil {
			return nil, fmt.Errorf("contactRepo.ListRequests scan: %w", err)
		}
		req.From = from
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contactRepo.ListRequests rows: %w", err)
	}
	return reqs, nil
}

// Respond removes the pending request and, when accepted, records the mutual
// contact. Returns ErrNotFound if no such request is pending.
func (r *ContactRepository) Respond(ctx context.Context, toID, fromID string, accept bool) error {
	defer logger.DeferLogDuration("contact.Respond", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contactRepo.Respond begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM contact_requests WHERE from_id = $1 AND to_id = $2`, fromID, toID)
	if err != nil {
		return fmt.Errorf("contactRepo.Respond delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if accept {
		_, err = tx.Exec(ctx,
			`INSERT INTO contacts (user_id, contact_id)
			 VALUES ($1, $2), ($2, $1) ON CONFLICT DO NOTHING`, fromID, toID)
		if err != nil {
			return fmt.Errorf("contactRepo.Respond insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contactRepo.Respond commit: %w", err)
	}
	return nil
}

// Remove severs the contact in both directions and drops any pending
// requests between the pair.
func (r *ContactRepository) Remove(ctx context.Context, userID, contactID string) error {
	defer logger.DeferLogDuration("contact.Remove", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contactRepo.Remove begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM contacts
		 WHERE (user_id = $1 AND contact_id = $2) OR (user_id = $2 AND contact_id = $1)`,
		userID, contactID); err != nil {
		return fmt.Errorf("contactRepo.Remove contacts: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM contact_requests
		 WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)`,
		userID, contactID); err != nil {
		return fmt.Errorf("contactRepo.Remove requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contactRepo.Remove commit: %w", err)
	}
	return nil
}

// ListContacts returns the public profiles of userID's contacts.
func (r *ContactRepository) ListContacts(ctx context.Context, userID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("contact.ListContacts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.name, u.about, u.avatar_url
		 FROM contacts c
		 JOIN users u ON u.id = c.contact_id
		 WHERE c.user_id = $1
		 ORDER BY u.name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("contactRepo.ListContacts query: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserPublic, 0, 16)
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Name, &u.About, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("contactRepo.ListContacts scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contactRepo.ListContacts rows: %w", err)
	}
	return users, nil
}
