package authorization

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/util"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var ErrForbidden = errors.New("forbidden")

// NewEnforcer loads the route table from the casbin_rule table and seeds the
// built-in routes.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.AddFunction("permMatch", permMatch)
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// Authorizer checks a principal's permissions against the route table.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	log      *zap.Logger
}

func NewAuthorizer(enforcer *casbin.SyncedEnforcer, log *zap.Logger) *Authorizer {
	return &Authorizer{
		enforcer: enforcer,
		log:      log.Named("authorization"),
	}
}

// Authorize reports whether any of the granted permissions covers the
// route. An unmapped route is never allowed.
func (a *Authorizer) Authorize(granted []string, path, method string) (bool, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, perm := range granted {
		if strings.TrimSpace(perm) == "" {
			continue
		}
		ok, err := a.enforcer.Enforce(perm, path, method)
		if err != nil {
			return false, fmt.Errorf("enforce: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Required lists the permissions that would admit a request to the route.
func (a *Authorizer) Required(path, method string) []string {
	method = strings.ToUpper(strings.TrimSpace(method))
	policies, err := a.enforcer.GetPolicy()
	if err != nil {
		a.log.Warn("read route policies", zap.Error(err))
		return nil
	}
	var out []string
	for _, rule := range policies {
		if len(rule) < 3 {
			continue
		}
		if !util.KeyMatch2(path, rule[1]) {
			continue
		}
		if rule[2] != method && rule[2] != "*" {
			continue
		}
		out = append(out, rule[0])
	}
	return scope.Normalize(out)
}

func permMatch(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("permMatch: want 2 arguments, got %d", len(args))
	}
	granted, ok := args[0].(string)
	if !ok {
		return false, nil
	}
	required, ok := args[1].(string)
	if !ok {
		return false, nil
	}
	return scope.Has([]string{granted}, required), nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for _, policy := range routePolicies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
