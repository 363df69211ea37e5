package client

import (
	"context"
	"errors"

	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
)

// Store persists registered clients.
type Store interface {
	Create(ctx context.Context, c *Client) error
	FindByID(ctx context.Context, id string) (*Client, error)
	Save(ctx context.Context, c *Client) error
}

type gormStore struct {
	db      *gorm.DB
	timeout db.Config
}

func NewStore(conn *gorm.DB, cfg db.Config) Store {
	return &gormStore{db: conn, timeout: cfg}
}

func (s *gormStore) Create(ctx context.Context, c *Client) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout.StoreTimeout)
	defer cancel()
	err := s.db.WithContext(ctx).Create(c).Error
	if db.IsDuplicateKeyErr(err) {
		return ErrClientExists
	}
	return err
}

func (s *gormStore) FindByID(ctx context.Context, id string) (*Client, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout.StoreTimeout)
	defer cancel()
	var c Client
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) Save(ctx context.Context, c *Client) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout.StoreTimeout)
	defer cancel()
	return s.db.WithContext(ctx).Save(c).Error
}
