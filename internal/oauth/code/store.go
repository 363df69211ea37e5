package code

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
)

// Store provides persistence for authorization codes.
type Store interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	Get(ctx context.Context, codeHash string) (*AuthorizationCode, error)
	// MarkConsumed flips an unconsumed code to consumed in a single
	// conditional update. It reports false when another caller won.
	MarkConsumed(ctx context.Context, codeHash string, consumedAt time.Time) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(conn *gorm.DB, cfg db.Config) Store {
	return &gormStore{db: conn, timeout: cfg.StoreTimeout}
}

func (s *gormStore) Create(ctx context.Context, code *AuthorizationCode) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(code).Error; err != nil {
		return fmt.Errorf("create authorization code: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var code AuthorizationCode
	err := s.db.WithContext(ctx).Where("code_hash = ?", codeHash).First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	return &code, nil
}

func (s *gormStore) MarkConsumed(ctx context.Context, codeHash string, consumedAt time.Time) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx := s.db.WithContext(ctx).
		Model(&AuthorizationCode{}).
		Where("code_hash = ? AND consumed_at IS NULL AND expires_at > ?", codeHash, consumedAt).
		Update("consumed_at", consumedAt)
	if tx.Error != nil {
		return false, fmt.Errorf("consume authorization code: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (s *gormStore) PurgeExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var hashes []string
	if err := s.db.WithContext(ctx).
		Model(&AuthorizationCode{}).
		Where("expires_at < ?", before).
		Limit(limit).
		Pluck("code_hash", &hashes).Error; err != nil {
		return 0, fmt.Errorf("select expired authorization codes: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}
	tx := s.db.WithContext(ctx).
		Where("code_hash IN ?", hashes).
		Delete(&AuthorizationCode{})
	if tx.Error != nil {
		return 0, fmt.Errorf("purge authorization codes: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}
