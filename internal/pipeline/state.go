package pipeline

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const stateKey = "pipeline.state"

// Outcome tells the chain whether to run the next stage.
type Outcome int

const (
	Continue Outcome = iota
	Halt
)

// Stage is one step of a request chain. A stage that halts has already
// written the response.
type Stage interface {
	Name() string
	Handle(st *State) Outcome
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject     string
	UserID      snowflake.ID
	ClientID    string
	Scopes      []string
	Permissions []string
	TokenID     string
}

func (p *Principal) IsUser() bool {
	return p != nil && p.UserID != 0
}

// Rejection records which stage stopped the request and why.
type Rejection struct {
	Stage       string
	Status      int
	Code        string
	Description string
}

// State is shared by every stage of one request.
type State struct {
	Context   *gin.Context
	Action    string
	StartedAt time.Time
	Principal *Principal
	Rejection *Rejection
	Panicked  bool

	targetType string
	targetID   string
	details    map[string]any
	writeError ErrorWriter
}

// Reject writes the error response, aborts the gin context and halts.
func (st *State) Reject(stage string, status int, code, description string) Outcome {
	st.Rejection = &Rejection{Stage: stage, Status: status, Code: code, Description: description}
	st.writeError(st.Context, status, code, description)
	st.Context.Abort()
	return Halt
}

func (st *State) AddDetail(key string, value any) {
	if st.details == nil {
		st.details = make(map[string]any)
	}
	st.details[key] = value
}

func (st *State) SetTarget(targetType, targetID string) {
	st.targetType = targetType
	st.targetID = targetID
}

// FromContext returns the pipeline state of the request, or nil when the
// handler runs outside a chain.
func FromContext(c *gin.Context) *State {
	v, ok := c.Get(stateKey)
	if !ok {
		return nil
	}
	st, _ := v.(*State)
	return st
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(c *gin.Context) *Principal {
	if st := FromContext(c); st != nil {
		return st.Principal
	}
	return nil
}

// SetPrincipal lets handlers that authenticate on their own (client
// credentials, session cookies) name the actor for the audit record.
func SetPrincipal(c *gin.Context, p *Principal) {
	if st := FromContext(c); st != nil {
		st.Principal = p
	}
}

func SetAction(c *gin.Context, action string) {
	if st := FromContext(c); st != nil && action != "" {
		st.Action = action
	}
}

func SetTarget(c *gin.Context, targetType, targetID string) {
	if st := FromContext(c); st != nil {
		st.SetTarget(targetType, targetID)
	}
}

func AddDetail(c *gin.Context, key string, value any) {
	if st := FromContext(c); st != nil {
		st.AddDetail(key, value)
	}
}
