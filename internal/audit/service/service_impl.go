package service

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/internal/audit/masking"
	"github.com/smallbiznis/gatekeeper/internal/clock"
	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
	"github.com/smallbiznis/gatekeeper/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	writeTimeout    = 3 * time.Second
	defaultPageSize = 50
	maxPageSize     = 200
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Emit writes the record to the structured log and persists it. The insert
// runs detached from request cancellation so a disconnected client still
// leaves a trail.
func (s *Service) Emit(ctx context.Context, rec auditdomain.Record) error {
	action := strings.TrimSpace(rec.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	actorType, actorID := s.resolveActor(ctx, rec.ActorType, rec.ActorID)
	outcome := rec.Outcome
	if outcome == "" {
		outcome = auditdomain.OutcomeSuccess
	}
	targetType := strings.TrimSpace(rec.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}
	ipAddress := strings.TrimSpace(rec.SourceIP)
	if ipAddress == "" {
		ipAddress = obscontext.ClientIPFromContext(ctx)
	}
	userAgent := strings.TrimSpace(rec.UserAgent)
	if userAgent == "" {
		userAgent = obscontext.UserAgentFromContext(ctx)
	}

	payload := masking.MaskSensitive(rec.Details)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         ulid.Make().String(),
		ActorType:  string(actorType),
		ActorID:    normalize(actorID),
		Action:     action,
		Outcome:    string(outcome),
		TargetType: targetType,
		TargetID:   normalize(rec.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		IPAddress:  normalize(ipAddress),
		UserAgent:  normalize(userAgent),
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  occurredAt.UTC(),
	}

	s.log.Info("audit",
		zap.String("audit_id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("outcome", entry.Outcome),
		zap.String("actor_type", entry.ActorType),
		zap.String("actor_id", actorID),
		zap.String("target_type", entry.TargetType),
		zap.String("target_id", rec.TargetID),
		zap.String("ip", ipAddress),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.Any("details", payload),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.repo.Insert(writeCtx, s.db, &entry); err != nil {
		s.log.Warn("failed to persist audit record", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := ulid.ParseStrict(decoded.ID)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id.String(), CreatedAt: decoded.CreatedAt}
	}

	pageSize := req.Limit(defaultPageSize, maxPageSize)
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:    req.Action,
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		Outcome:   req.Outcome,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, pageSize, func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, CreatedAt: item.CreatedAt}
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (auditdomain.ActorType, string) {
	if actorType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			actorType = auditdomain.ActorType(ctxType)
			if strings.TrimSpace(actorID) == "" {
				actorID = ctxID
			}
		}
	}
	if actorType == "" {
		actorType = auditdomain.ActorTypeAnonymous
	}
	return actorType, strings.TrimSpace(actorID)
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
