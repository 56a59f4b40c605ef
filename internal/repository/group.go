package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts the group and its initial member set in one transaction.
// The admin is always included as a member.
func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	defer logger.DeferLogDuration("group.Create", time.Now())()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("groupRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO groups (id, name, icon_url, admin_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, g.IconURL, g.AdminID, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("groupRepo.Create group: %w", err)
	}
	for _, uid := range g.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			g.ID, uid, g.CreatedAt); err != nil {
			return fmt.Errorf("groupRepo.Create member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("groupRepo.Create commit: %w", err)
	}
	return nil
}

// FindByID loads the group with its full member list.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*model.Group, error) {
	defer logger.DeferLogDuration("group.FindByID", time.Now())()
	g := &model.Group{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, icon_url, admin_id, created_at FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.IconURL, &g.AdminID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.FindByID: %w", err)
	}
	members, err := r.MemberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return g, nil
}

// MemberIDs returns the ids of all group members.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	defer logger.DeferLogDuration("group.MemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.MemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.MemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.MemberIDs rows: %w", err)
	}
	return ids, nil
}

// FindForUser returns every group the user belongs to, members included.
func (r *GroupRepository) FindForUser(ctx context.Context, userID string) ([]model.Group, error) {
	defer logger.DeferLogDuration("group.FindForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, g.icon_url, g.admin_id, g.created_at
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = $1
		 ORDER BY g.created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.FindForUser query: %w", err)
	}
	defer rows.Close()

	groups := make([]model.Group, 0, 8)
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IconURL, &g.AdminID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("groupRepo.FindForUser scan: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.FindForUser rows: %w", err)
	}
	for i := range groups {
		members, err := r.MemberIDs(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Members = members
	}
	return groups, nil
}

func (r *GroupRepository) Rename(ctx context.Context, id, name string) error {
	defer logger.DeferLogDuration("group.Rename", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE groups SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("groupRepo.Rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GroupRepository) SetIcon(ctx context.Context, id, iconURL string) error {
	defer logger.DeferLogDuration("group.SetIcon", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE groups SET icon_url = $2 WHERE id = $1`, id, iconURL)
	if err != nil {
		return fmt.Errorf("groupRepo.SetIcon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMembers inserts the given users, skipping ones already present.
func (r *GroupRepository) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	defer logger.DeferLogDuration("group.AddMembers", time.Now())()
	now := time.Now().UTC()
	for _, uid := range userIDs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			groupID, uid, now); err != nil {
			return fmt.Errorf("groupRepo.AddMembers: %w", err)
		}
	}
	return nil
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	defer logger.DeferLogDuration("group.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("groupRepo.RemoveMember: %w", err)
	}
	return nil
}

// Delete removes the group; membership rows go with it via FK cascade.
// The caller is responsible for cascading message deletion.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("group.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("groupRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
