package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SecurityPolicy holds the tunables operators can change without a restart.
type SecurityPolicy struct {
	RateLimit RateLimitPolicy `mapstructure:"rateLimit"`
	Lockout   LockoutPolicy   `mapstructure:"lockout"`
}

type RateLimitPolicy struct {
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

type LockoutPolicy struct {
	MaxFailedAttempts int           `mapstructure:"maxFailedAttempts"`
	Duration          time.Duration `mapstructure:"duration"`
}

func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		RateLimit: RateLimitPolicy{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Lockout: LockoutPolicy{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds SecurityPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy SecurityPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("security")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gatekeeper")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSecurityPolicy()
	v.SetDefault("security.rateLimit.requestsPerSecond", defaults.RateLimit.RequestsPerSecond)
	v.SetDefault("security.rateLimit.burst", defaults.RateLimit.Burst)
	v.SetDefault("security.lockout.maxFailedAttempts", defaults.Lockout.MaxFailedAttempts)
	v.SetDefault("security.lockout.duration", defaults.Lockout.Duration)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var policy SecurityPolicy
	if err := v.UnmarshalKey("security", &policy); err != nil {
		return nil, err
	}
	if err := validateSecurityPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated SecurityPolicy
			if err := v.UnmarshalKey("security", &updated); err != nil {
				log.Warn("security policy reload failed", zap.Error(err))
				return
			}
			if err := validateSecurityPolicy(updated); err != nil {
				log.Warn("invalid security policy ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("security policy reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() SecurityPolicy {
	if h == nil {
		return DefaultSecurityPolicy()
	}
	return h.current.Load().(SecurityPolicy)
}

func validateSecurityPolicy(p SecurityPolicy) error {
	if p.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("security.rateLimit.requestsPerSecond must be positive")
	}
	if p.RateLimit.Burst <= 0 {
		return errors.New("security.rateLimit.burst must be positive")
	}
	if p.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("security.lockout.maxFailedAttempts must be positive")
	}
	if p.Lockout.Duration <= 0 {
		return errors.New("security.lockout.duration must be positive")
	}
	return nil
}
