package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends a record. Audit rows are never updated, so a replayed ID
// is dropped instead of overwriting the original.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(entry).Error
}

// List returns newest records first. One row beyond Limit is fetched so the
// caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Scopes(matching(filter), within(filter), after(filter.Cursor)).
		Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	columns := map[string]string{
		"action":     filter.Action,
		"actor_type": filter.ActorType,
		"actor_id":   filter.ActorID,
		"outcome":    filter.Outcome,
	}
	return func(tx *gorm.DB) *gorm.DB {
		for column, value := range columns {
			if value = strings.TrimSpace(value); value != "" {
				tx = tx.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value})
			}
		}
		return tx
	}
}

func within(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if filter.StartAt != nil {
			tx = tx.Where("created_at >= ?", filter.StartAt.UTC())
		}
		if filter.EndAt != nil {
			tx = tx.Where("created_at <= ?", filter.EndAt.UTC())
		}
		return tx
	}
}

// after continues a keyset walk over (created_at, id).
func after(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if cursor == nil {
			return tx
		}
		return tx.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}
