package model

import (
	"reflect"
	"sync"

	"github.com/kasuganosora/typedkv/dberr"
)

// modelKey identifies a registered (model_id, model_version) pair.
type modelKey struct {
	id, version uint32
}

// Registry maps (model_id, model_version) to Model. Models are registered
// at Database construction and immutable thereafter; Freeze() is called by
// the facade once construction completes, after which Define/DefineLegacy
// return an error instead of mutating state.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	models  map[modelKey]Model
	legacy  map[modelKey]bool
	byType  map[reflect.Type]modelKey
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[modelKey]Model),
		legacy: make(map[modelKey]bool),
		byType: make(map[reflect.Type]modelKey),
	}
}

// Define registers m as the current (non-legacy) model for its
// (model_id, model_version). Fails with DuplicateModel if that pair is
// already registered as non-legacy.
func (r *Registry) Define(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errFrozen{}
	}
	k := modelKey{m.ModelID, m.ModelVersion}
	if existing, ok := r.models[k]; ok && !r.legacy[k] {
		return &dberr.DuplicateModel{ModelID: existing.ModelID, ModelVersion: existing.ModelVersion}
	}
	r.models[k] = m
	r.legacy[k] = false
	r.byType[m.Type] = k
	return nil
}

// DefineLegacy registers m as a legacy model: readable only through the
// migration API, never through the normal transaction API.
func (r *Registry) DefineLegacy(m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errFrozen{}
	}
	k := modelKey{m.ModelID, m.ModelVersion}
	r.models[k] = m
	r.legacy[k] = true
	r.byType[m.Type] = k
	return nil
}

// Freeze prevents further registration. Called once by the facade while
// Builder.CreateOnDisk/CreateInMemory/OpenOnDisk opens the database, just
// before it builds the catalog.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the Model registered for Go type T.
func Lookup[T any](r *Registry) (Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	k, ok := r.byType[t]
	if !ok {
		return Model{}, false
	}
	return r.models[k], true
}

// IsLegacy reports whether the model registered for Go type T is legacy.
func IsLegacy[T any](r *Registry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	k, ok := r.byType[t]
	if !ok {
		return false
	}
	return r.legacy[k]
}

// All returns every registered model, legacy and current.
func (r *Registry) All() []Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// IsLegacyModel reports whether m (by model id/version) was registered as
// legacy.
func (r *Registry) IsLegacyModel(m Model) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.legacy[modelKey{m.ModelID, m.ModelVersion}]
}

type errFrozen struct{}

func (errFrozen) Error() string {
	return "model registry is frozen: registration after Database construction is not permitted"
}
