package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store provides persistence for refresh tokens and access token revocations.
type Store interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate revokes the live token oldID and inserts next in one
	// transaction. It reports false when oldID was no longer live.
	Rotate(ctx context.Context, oldID string, now time.Time, next *RefreshToken) (bool, error)
	SetAccessTokenID(ctx context.Context, id string, jti string) error
	RevokeRefreshToken(ctx context.Context, id string, now time.Time, reason string) (bool, error)
	RevokeChain(ctx context.Context, chainID string, now time.Time, reason string) (int64, error)
	RevokeAccessToken(ctx context.Context, record *RevokedAccessToken) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredRefreshTokens(ctx context.Context, before time.Time, limit int) (int64, error)
	PurgeExpiredRevocations(ctx context.Context, before time.Time, limit int) (int64, error)
}

type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(conn *gorm.DB, cfg db.Config) Store {
	return &gormStore{db: conn, timeout: cfg.StoreTimeout}
}

func (s *gormStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (s *gormStore) FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var token RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errRefreshNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

func (s *gormStore) Rotate(ctx context.Context, oldID string, now time.Time, next *RefreshToken) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	rotated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL AND expires_at > ?", oldID, now).
			Updates(map[string]any{
				"revoked_at":     now,
				"revoked_reason": RevokedReasonRotated,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return rotated, nil
}

func (s *gormStore) SetAccessTokenID(ctx context.Context, id string, jti string) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("id = ?", id).
		Update("access_token_id", jti).Error; err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return nil
}

func (s *gormStore) RevokeRefreshToken(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return false, fmt.Errorf("revoke refresh token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) RevokeChain(ctx context.Context, chainID string, now time.Time, reason string) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("chain_id = ? AND revoked_at IS NULL", chainID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("revoke refresh token chain: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) RevokeAccessToken(ctx context.Context, record *RevokedAccessToken) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error; err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *gormStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&RevokedAccessToken{}).
		Where("jti = ?", jti).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check access token revocation: %w", err)
	}
	return count > 0, nil
}

func (s *gormStore) PurgeExpiredRefreshTokens(ctx context.Context, before time.Time, limit int) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("expires_at < ?", before).
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("select expired refresh tokens: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) PurgeExpiredRevocations(ctx context.Context, before time.Time, limit int) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var jtis []string
	if err := s.db.WithContext(ctx).
		Model(&RevokedAccessToken{}).
		Where("expires_at < ?", before).
		Limit(limit).
		Pluck("jti", &jtis).Error; err != nil {
		return 0, fmt.Errorf("select expired revocations: %w", err)
	}
	if len(jtis) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("jti IN ?", jtis).Delete(&RevokedAccessToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge revocations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
