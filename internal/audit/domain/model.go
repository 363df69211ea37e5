package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeUser      ActorType = "user"
	ActorTypeClient    ActorType = "client"
	ActorTypeAnonymous ActorType = "anonymous"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Security-relevant actions recorded by the server.
const (
	ActionAuthorize          = "oauth.authorize"
	ActionTokenIssued        = "oauth.token"
	ActionIntrospect         = "oauth.introspect"
	ActionRevoke             = "oauth.revoke"
	ActionUserInfo           = "oauth.userinfo"
	ActionRefreshReuse       = "refresh_token.reuse_detected"
	ActionConsentGranted     = "oauth.consent.granted"
	ActionConsentWithdrawn   = "oauth.consent.withdrawn"
	ActionLogin              = "auth.login"
	ActionLogout             = "auth.logout"
	ActionAccountLocked      = "auth.account_locked"
	ActionRoleAssigned       = "rbac.role.assigned"
	ActionRoleUnassigned     = "rbac.role.unassigned"
	ActionPermissionGranted  = "rbac.permission.granted"
	ActionPermissionRemoved  = "rbac.permission.removed"
	ActionUserDeactivated    = "rbac.user.deactivated"
	ActionAdminRequest       = "admin.request"
	ActionRateLimited        = "http.rate_limited"
	ActionAuthenticationFail = "http.authentication_failed"
	ActionAuthorizationFail  = "http.authorization_failed"
)

// Record is the immutable description of one security event.
type Record struct {
	ActorType  ActorType
	ActorID    string
	Action     string
	Outcome    Outcome
	TargetType string
	TargetID   string
	SourceIP   string
	UserAgent  string
	Duration   time.Duration
	Details    map[string]any
	OccurredAt time.Time
}

// AuditLog is the persisted form of a Record.
type AuditLog struct {
	ID         string            `gorm:"column:id;type:text;primaryKey" json:"id"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;type:text;not null;index" json:"action"`
	Outcome    string            `gorm:"column:outcome;type:text;not null" json:"outcome"`
	TargetType string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata;type:json" json:"metadata"`
	IPAddress  *string           `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	DurationMs int64             `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        string
	CreatedAt time.Time
}

type ListFilter struct {
	Action    string
	ActorType string
	ActorID   string
	Outcome   string
	StartAt   *time.Time
	EndAt     *time.Time
	Cursor    *AuditCursor
	Limit     int
}
