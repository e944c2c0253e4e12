package catalog

import (
	"fmt"

	"github.com/pario-ai/tollgate/pkg/tier"
)

// ModelDeniedError is returned when an actor asks for a model outside its allowed set.
type ModelDeniedError struct {
	Model    string
	Required tier.Tier
	Locked   string
	// InvalidLock is set when the organization's lock names no catalog model.
	InvalidLock string
}

func (e *ModelDeniedError) Error() string {
	switch {
	case e.Locked != "":
		return fmt.Sprintf("model %q not permitted: organization is locked to %q", e.Model, e.Locked)
	case e.InvalidLock != "":
		return fmt.Sprintf("model %q not permitted: organization lock %q is not a catalog model, access is restricted to tier %d (%s) models",
			e.Model, e.InvalidLock, int(tier.LeastPrivileged), tier.LeastPrivileged.Label())
	case e.Required.Valid():
		return fmt.Sprintf("model %q requires tier %d (%s) or higher", e.Model, int(e.Required), e.Required.Label())
	default:
		return fmt.Sprintf("model %q is not in the catalog", e.Model)
	}
}

// Restriction is a catalog entry the caller may not use, with the tier it needs.
type Restriction struct {
	Model    Model
	Required tier.Tier
}

// Allowed returns the models visible to tier t under an optional organization lock.
//
// A lock that names a catalog model pins every tier, including tier 1, to that model.
// A lock that names nothing in the catalog falls back to the most restrictive tier's set.
func Allowed(t tier.Tier, lock string) []Model {
	if lock != "" {
		if m, ok := Lookup(lock); ok {
			return []Model{m}
		}
		return atTier(tier.LeastPrivileged)
	}
	return atTier(t)
}

func atTier(t tier.Tier) []Model {
	var out []Model
	for _, m := range models {
		if m.MinTier >= t {
			out = append(out, m)
		}
	}
	return out
}

// Restricted returns catalog entries outside Allowed(t, lock).
func Restricted(t tier.Tier, lock string) []Restriction {
	allowed := make(map[string]bool)
	for _, m := range Allowed(t, lock) {
		allowed[m.ID] = true
	}
	var out []Restriction
	for _, m := range models {
		if !allowed[m.ID] {
			out = append(out, Restriction{Model: m, Required: m.MinTier})
		}
	}
	return out
}

// Default returns the model a caller gets when it expresses no preference.
func Default(t tier.Tier, lock string) string {
	if m, ok := Lookup(lock); ok {
		return m.ID
	}
	allowed := Allowed(t, lock)
	if len(allowed) == 0 {
		return ""
	}
	return allowed[0].ID
}

// CanUse reports whether model id is in Allowed(t, lock).
func CanUse(id string, t tier.Tier, lock string) bool {
	n := Normalize(id)
	for _, m := range Allowed(t, lock) {
		if m.ID == n {
			return true
		}
	}
	return false
}

// Authorize is CanUse returning a descriptive error on refusal.
func Authorize(id string, t tier.Tier, lock string) error {
	if CanUse(id, t, lock) {
		return nil
	}
	err := &ModelDeniedError{Model: id}
	if m, ok := Lookup(lock); ok {
		err.Locked = m.ID
		return err
	}
	if lock != "" {
		err.InvalidLock = lock
		return err
	}
	if m, ok := Lookup(id); ok {
		err.Required = m.MinTier
	}
	return err
}
