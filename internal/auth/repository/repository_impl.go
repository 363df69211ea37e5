package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db      *gorm.DB
	timeout time.Duration
}

func New(conn *gorm.DB, cfg db.Config) (domain.Repository, domain.SessionRepository) {
	r := &repo{db: conn, timeout: cfg.StoreTimeout}
	return r, r
}

func (r *repo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).Count(&count).Error
	return count, err
}

func (r *repo) Create(ctx context.Context, user *domain.User) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.WithContext(ctx).Create(user).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrUserExists
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var user domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var user domain.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) RegisterFailedLogin(ctx context.Context, id snowflake.ID, maxAttempts int, lockUntil time.Time) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	locked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("failed_attempts", gorm.Expr("failed_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}

		res = tx.Model(&domain.User{}).
			Where("id = ? AND failed_attempts >= ?", id, maxAttempts).
			Updates(map[string]any{
				"locked_until":    lockUntil,
				"failed_attempts": 0,
			})
		if res.Error != nil {
			return res.Error
		}
		locked = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("register failed login: %w", err)
	}
	return locked, nil
}

func (r *repo) RecordSuccessfulLogin(ctx context.Context, id snowflake.ID, at time.Time) error {
	return r.UpdateFields(ctx, id, map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   at,
	})
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_token_hash = ?", tokenHash).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx := r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", sessionID).Update("last_seen_at", lastSeen)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", revokedAt)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeUserSessions(ctx context.Context, userID snowflake.ID, revokedAt time.Time) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", revokedAt)
	return tx.RowsAffected, tx.Error
}

func (r *repo) PurgeExpiredSessions(ctx context.Context, before time.Time, limit int) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ids []snowflake.ID
	if err := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("expires_at < ?", before).
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Session{})
	return tx.RowsAffected, tx.Error
}
