package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/pkg/schema"
)

// ValidationResult is one validator's verdict on whether a run can be skipped.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validator decides whether a workflow run is already up to date and can be
// skipped. All registered validators are evaluated; a run is skippable only
// if every one of them reports valid.
type Validator interface {
	Name() string
	Priority() int
	Validate(pending *schema.TransitionRequest, wf *store.Workflow, options map[string]any) ValidationResult
}

// ValidatorRegistry holds validators ordered by ascending priority.
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewValidatorRegistry creates an empty ValidatorRegistry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{}
}

// Register adds a validator. Returns error on duplicate name.
func (r *ValidatorRegistry) Register(v Validator) error {
	if v == nil {
		return schema.NewError(schema.ErrCodeValidation, "validator is nil")
	}
	if v.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "validator name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.validators {
		if existing.Name() == v.Name() {
			return schema.NewErrorf(schema.ErrCodeConflict, "validator %q already registered", v.Name())
		}
	}
	r.validators = append(r.validators, v)
	sort.SliceStable(r.validators, func(i, j int) bool {
		return r.validators[i].Priority() < r.validators[j].Priority()
	})
	return nil
}

// CanSkip evaluates every validator and reports whether the run can be
// skipped. There is no short-circuit: all invalidation reasons are collected.
func (r *ValidatorRegistry) CanSkip(pending *schema.TransitionRequest, wf *store.Workflow, options map[string]any) (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var reasons []string
	for _, v := range r.validators {
		result := v.Validate(pending, wf, options)
		if !result.Valid {
			reason := result.Reason
			if reason == "" {
				reason = v.Name()
			}
			reasons = append(reasons, reason)
		}
	}
	return len(reasons) == 0, reasons
}

// Count returns the number of registered validators.
func (r *ValidatorRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validators)
}

// RegisterBuiltinValidators installs the canonical validators.
func RegisterBuiltinValidators(r *ValidatorRegistry) error {
	for _, v := range []Validator{
		&initializedValidator{},
		&optionsHashValidator{},
	} {
		if err := r.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// initializedValidator reports valid when the workflow has already started
// and no pending transition was supplied, meaning there is nothing to do.
type initializedValidator struct{}

func (v *initializedValidator) Name() string  { return "initialized" }
func (v *initializedValidator) Priority() int { return 10 }

func (v *initializedValidator) Validate(pending *schema.TransitionRequest, wf *store.Workflow, _ map[string]any) ValidationResult {
	if pending == nil && wf.Place != schema.PlaceInitial {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{Valid: false, Reason: "initialization"}
}

// optionsHashValidator reports invalid when the fingerprint of the new
// invocation options differs from the one stored on the workflow, forcing a
// re-run with the new options.
type optionsHashValidator struct{}

func (v *optionsHashValidator) Name() string  { return "options" }
func (v *optionsHashValidator) Priority() int { return 20 }

func (v *optionsHashValidator) Validate(_ *schema.TransitionRequest, wf *store.Workflow, options map[string]any) ValidationResult {
	if OptionsFingerprint(options) == wf.OptionsHash {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{Valid: false, Reason: "options"}
}

// OptionsFingerprint computes a stable hash of invocation options.
// encoding/json sorts map keys, so equal maps always hash identically.
func OptionsFingerprint(options map[string]any) string {
	if len(options) == 0 {
		return ""
	}
	data, err := json.Marshal(options)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
