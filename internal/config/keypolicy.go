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

// DefaultKeyTTL is applied when no policy overrides a nature.
const DefaultKeyTTL = 20 * 365 * 24 * time.Hour

// KeyPolicy controls the expiry assigned to newly issued identity keys.
// A TTL of zero issues non-expiring keys.
type KeyPolicy struct {
	DefaultTTL time.Duration            `mapstructure:"defaultTTL"`
	Natures    map[string]time.Duration `mapstructure:"natures"`
}

func DefaultKeyPolicy() KeyPolicy {
	return KeyPolicy{DefaultTTL: DefaultKeyTTL}
}

// TTLFor resolves the TTL for a key nature.
func (p KeyPolicy) TTLFor(nature string) time.Duration {
	if ttl, ok := p.Natures[strings.ToLower(strings.TrimSpace(nature))]; ok {
		return ttl
	}
	return p.DefaultTTL
}

type KeyPolicyHolder struct {
	current atomic.Value // holds KeyPolicy
}

// NewStaticKeyPolicyHolder returns a holder that never reloads.
func NewStaticKeyPolicyHolder(policy KeyPolicy) *KeyPolicyHolder {
	holder := &KeyPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewKeyPolicyHolder reads keys.yml (if present) and watches it for changes.
func NewKeyPolicyHolder(cfg Config, log *zap.Logger) (*KeyPolicyHolder, error) {
	log = log.Named("config.keypolicy")
	v := viper.New()

	v.SetConfigName(cfg.KeyPolicy.Name)
	v.SetConfigType("yml")
	for _, path := range cfg.KeyPolicy.Paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("IDENTITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultKeyPolicy()
	v.SetDefault("keys.defaultTTL", defaults.DefaultTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	policy, err := decodeKeyPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticKeyPolicyHolder(policy)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeKeyPolicy(v)
		if err != nil {
			log.Warn("key policy reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("key policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *KeyPolicyHolder) Get() KeyPolicy {
	return h.current.Load().(KeyPolicy)
}

func decodeKeyPolicy(v *viper.Viper) (KeyPolicy, error) {
	var policy KeyPolicy
	if err := v.UnmarshalKey("keys", &policy); err != nil {
		return KeyPolicy{}, err
	}
	// nested defaults are not merged by UnmarshalKey when the file sets other keys
	policy.DefaultTTL = v.GetDuration("keys.defaultTTL")
	if err := validateKeyPolicy(policy); err != nil {
		return KeyPolicy{}, err
	}
	return policy, nil
}

func validateKeyPolicy(policy KeyPolicy) error {
	if policy.DefaultTTL < 0 {
		return errors.New("keys.defaultTTL cannot be negative")
	}
	for nature, ttl := range policy.Natures {
		if ttl < 0 {
			return errors.New("keys.natures." + nature + " cannot be negative")
		}
	}
	return nil
}
