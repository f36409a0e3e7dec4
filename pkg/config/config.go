// Package config loads and validates the engine configuration file: engine
// tunables, target kind mappings, and the applications to reconcile.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"statesync/pkg/adapters/kubetarget"
	"statesync/pkg/core"
)

// Duration wraps time.Duration so YAML values like "30s" decode directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root of the configuration file.
type Config struct {
	// Interval between timer-driven passes; zero keeps the engine default.
	Interval      Duration `yaml:"interval"`
	SourceTimeout Duration `yaml:"sourceTimeout"`
	TargetTimeout Duration `yaml:"targetTimeout"`
	ApplyTimeout  Duration `yaml:"applyTimeout"`

	// Kinds maps manifest kind names to target API groups.
	Kinds map[string]Kind `yaml:"kinds" validate:"dive"`

	Applications []Application `yaml:"applications" validate:"required,min=1,dive"`
}

// Kind maps one manifest kind to a target group/version/kind.
type Kind struct {
	Group   string `yaml:"group"`
	Version string `yaml:"version" validate:"required"`
	Kind    string `yaml:"kind" validate:"required"`
}

// Application declares one application to register at startup.
type Application struct {
	ID     string `yaml:"id" validate:"required,app_id"`
	Source string `yaml:"source" validate:"required"`
	Target string `yaml:"target" validate:"required"`
	Policy Policy `yaml:"policy"`
}

// Policy mirrors core.SyncPolicy with optional fields so unset values fall
// back to the engine defaults.
type Policy struct {
	Automated  *bool   `yaml:"automated"`
	Prune      bool    `yaml:"prune"`
	SelfHeal   bool    `yaml:"selfHeal"`
	RetryLimit *int    `yaml:"retryLimit" validate:"omitempty,gte=0"`
	Backoff    Backoff `yaml:"backoff"`
}

// Backoff configures retry spacing; zero values keep the defaults.
type Backoff struct {
	BaseDelay Duration `yaml:"baseDelay"`
	MaxDelay  Duration `yaml:"maxDelay"`
	Jitter    float64  `yaml:"jitter" validate:"gte=0,lte=1"`
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	appIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("app_id", func(fl validator.FieldLevel) bool {
			return appIDPattern.MatchString(fl.Field().String())
		})
		validateInst = v
	})
	return validateInst
}

// Load reads, decodes and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, &core.ParseError{Path: path, Err: err}
	}

	if err := validatorInstance().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(cfg.Applications))
	for _, app := range cfg.Applications {
		if _, duplicate := seen[app.ID]; duplicate {
			return nil, fmt.Errorf("validate config %s: duplicate application id %q", path, app.ID)
		}
		seen[app.ID] = struct{}{}
	}
	return &cfg, nil
}

// SyncPolicy converts the declared policy into a core.SyncPolicy, filling
// unset fields from the defaults.
func (p Policy) SyncPolicy() core.SyncPolicy {
	policy := core.DefaultPolicy()
	if p.Automated != nil {
		policy.Automated = *p.Automated
	}
	policy.Prune = p.Prune
	policy.SelfHeal = p.SelfHeal
	if p.RetryLimit != nil {
		policy.RetryLimit = *p.RetryLimit
	}
	if p.Backoff.BaseDelay > 0 {
		policy.Backoff.BaseDelay = time.Duration(p.Backoff.BaseDelay)
	}
	if p.Backoff.MaxDelay > 0 {
		policy.Backoff.MaxDelay = time.Duration(p.Backoff.MaxDelay)
	}
	if p.Backoff.Jitter > 0 {
		policy.Backoff.Jitter = p.Backoff.Jitter
	}
	return policy
}

// KindMappings converts the declared kinds into the mapping the kube target
// adapter expects.
func (c *Config) KindMappings() map[string]kubetarget.KindMapping {
	if len(c.Kinds) == 0 {
		return nil
	}
	mappings := make(map[string]kubetarget.KindMapping, len(c.Kinds))
	for name, kind := range c.Kinds {
		mappings[name] = kubetarget.KindMapping{Group: kind.Group, Version: kind.Version, Kind: kind.Kind}
	}
	return mappings
}
