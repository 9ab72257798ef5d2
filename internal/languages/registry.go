package languages

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

// Registry maps language ids to their recipes. It is built once at startup
// and only read afterwards, so lookups need no locking.
type Registry struct {
	recipes map[string]domain.Recipe
}

// NewRegistry validates and indexes the given recipes.
func NewRegistry(recipes ...domain.Recipe) (*Registry, error) {
	r := &Registry{recipes: make(map[string]domain.Recipe, len(recipes))}
	for _, rec := range recipes {
		if err := validate(rec); err != nil {
			return nil, err
		}
		if _, dup := r.recipes[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate language id %q", rec.ID)
		}
		r.recipes[rec.ID] = rec
	}
	return r, nil
}

func validate(rec domain.Recipe) error {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return errors.New("language recipe has empty id")
	case rec.FileExtension == "" && rec.SourceFile == "":
		return fmt.Errorf("language %q: file extension is required", rec.ID)
	case len(rec.RunCommand) == 0:
		return fmt.Errorf("language %q: run command is required", rec.ID)
	case rec.DefaultTimeoutMs <= 0 || rec.DefaultMemoryLimitMb <= 0:
		return fmt.Errorf("language %q: default limits must be positive", rec.ID)
	}
	return nil
}

// Resolve returns the recipe registered under id.
func (r *Registry) Resolve(id string) (domain.Recipe, error) {
	rec, ok := r.recipes[id]
	if !ok {
		return domain.Recipe{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, id)
	}
	return rec, nil
}

// List returns all recipes ordered by id.
func (r *Registry) List() []domain.Recipe {
	out := make([]domain.Recipe, 0, len(r.recipes))
	for _, rec := range r.recipes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithImages returns a copy of recipes where any language present in images
// uses the given container image instead of its default.
func WithImages(recipes []domain.Recipe, images map[string]string) []domain.Recipe {
	out := make([]domain.Recipe, len(recipes))
	for i, rec := range recipes {
		if img, ok := images[rec.ID]; ok && img != "" {
			rec.Image = img
		}
		out[i] = rec
	}
	return out
}
