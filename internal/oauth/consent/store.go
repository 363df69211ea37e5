package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("consent_not_found")

type Store interface {
	Find(ctx context.Context, userID snowflake.ID, clientID string) (*Grant, error)
	Upsert(ctx context.Context, grant *Grant) error
	Delete(ctx context.Context, userID snowflake.ID, clientID string) (bool, error)
}

type gormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(conn *gorm.DB, cfg db.Config) Store {
	return &gormStore{db: conn, timeout: cfg.StoreTimeout}
}

func (s *gormStore) Find(ctx context.Context, userID snowflake.ID, clientID string) (*Grant, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var grant Grant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND client_id = ?", userID, clientID).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return &grant, nil
}

// Upsert replaces the scope set of an existing grant.
func (s *gormStore) Upsert(ctx context.Context, grant *Grant) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"scopes", "updated_at"}),
		}).
		Create(grant).Error
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

func (s *gormStore) Delete(ctx context.Context, userID snowflake.ID, clientID string) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).
		Where("user_id = ? AND client_id = ?", userID, clientID).
		Delete(&Grant{})
	if res.Error != nil {
		return false, fmt.Errorf("delete consent: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
