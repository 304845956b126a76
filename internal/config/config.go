// Package config loads per-study configurations from JSON files.
//
// Study configs are declarative data, never executable code: the rule
// evaluator interprets them generically, so onboarding a new study is a
// config file, not a code change. Loaded configs are cached and immutable.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/clinicontact/leadscreen/internal/models"
)

// Error variables for config loading.
var (
	ErrUnknownStudy   = errors.New("unknown study id")
	ErrInvalidStudyID = errors.New("invalid study id")
)

// studyIDPattern restricts study ids to safe file-name characters.
var studyIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry loads and caches study configurations from a directory of
// study_<id>.json files.
type Registry struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*models.StudyConfig
}

// NewRegistry creates a Registry reading configs from dir.
func NewRegistry(dir string) *Registry {
	slog.Debug("config: creating registry", "dir", dir)
	return &Registry{
		dir:   dir,
		cache: make(map[string]*models.StudyConfig),
	}
}

// Load returns the configuration for a study id, reading and validating the
// config file on first use. Loading fails closed: a config whose rules
// reference fields absent from the study's schema is rejected entirely.
func (r *Registry) Load(studyID string) (*models.StudyConfig, error) {
	if !studyIDPattern.MatchString(studyID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStudyID, studyID)
	}

	r.mu.RLock()
	cfg, ok := r.cache[studyID]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.cache[studyID]; ok {
		return cfg, nil
	}

	path := filepath.Join(r.dir, "study_"+studyID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config: study config file not found", "study", studyID, "path", path)
			return nil, fmt.Errorf("%w: %q", ErrUnknownStudy, studyID)
		}
		slog.Error("config: failed to read study config", "study", studyID, "path", path, "error", err)
		return nil, fmt.Errorf("failed to read study config %q: %w", studyID, err)
	}

	cfg = &models.StudyConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		slog.Error("config: failed to parse study config", "study", studyID, "error", err)
		return nil, fmt.Errorf("failed to parse study config %q: %w", studyID, err)
	}
	cfg.ID = studyID

	if err := Validate(cfg); err != nil {
		slog.Error("config: study config validation failed", "study", studyID, "error", err)
		return nil, fmt.Errorf("invalid study config %q: %w", studyID, err)
	}

	r.cache[studyID] = cfg
	slog.Info("config: study config loaded", "study", studyID, "fields", len(cfg.Fields), "rules", len(cfg.Rules))
	return cfg, nil
}

// Validate checks structural validity of a study config: every rule must be
// well formed, every field a rule references must exist in the field schema,
// and a distance rule requires a geo target.
func Validate(cfg *models.StudyConfig) error {
	if len(cfg.Fields) == 0 {
		return errors.New("study declares no fields")
	}

	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if err := checkFieldRefs(cfg, rule); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if rule.Kind == models.RuleKindDistance && cfg.Geo == nil {
			return fmt.Errorf("rules[%d]: distance rule requires a geo target", i)
		}
	}
	return nil
}

// checkFieldRefs verifies all answer fields a rule touches exist in the schema.
func checkFieldRefs(cfg *models.StudyConfig, rule *models.RuleSpec) error {
	if rule.Kind == models.RuleKindComparison && !cfg.HasField(rule.Field) {
		return fmt.Errorf("rule references unknown field %q", rule.Field)
	}
	if rule.Condition != nil && !cfg.HasField(rule.Condition.Field) {
		return fmt.Errorf("rule condition references unknown field %q", rule.Condition.Field)
	}
	for j := range rule.SubRules {
		if err := checkFieldRefs(cfg, &rule.SubRules[j]); err != nil {
			return fmt.Errorf("sub_rules[%d]: %w", j, err)
		}
	}
	return nil
}
