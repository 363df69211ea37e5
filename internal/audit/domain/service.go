package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/gatekeeper/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action    string     `form:"action"`
	ActorType string     `form:"actor_type"`
	ActorID   string     `form:"actor_id"`
	Outcome   string     `form:"outcome"`
	StartAt   *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt     *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Emitter receives security events. Implementations must not block the
// caller on a slow sink for longer than their own timeout.
type Emitter interface {
	Emit(ctx context.Context, rec Record) error
}

type Service interface {
	Emitter
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
