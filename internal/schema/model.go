// Package schema describes the host entities that own attachments. The
// composition tree is resolved once from configuration and then walked by
// the attachment service instead of inspecting request payloads ad hoc.
package schema

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	config "github.com/mwantia/goattach/internal/config/server"
)

type Kind string

const (
	KindEntity      Kind = "entity"
	KindAttachments Kind = "attachments"
	KindImage       Kind = "image"
)

const (
	DefaultMaxContentSize = "400MB"
	// ContentProperty is the trailing path segment addressing binary content.
	ContentProperty = "content"
	// UpPrefix prefixes foreign key fields pointing at the parent.
	UpPrefix = "up__"
)

// Entity is one node of the composition tree.
type Entity struct {
	Name   string
	Kind   Kind
	Keys   []string
	Draft  bool
	Parent *Entity
	// UpKeys are the foreign key fields referencing the parent, e.g. up__ID.
	UpKeys []string

	MaxContentSize       int64
	AcceptableMediaTypes []string

	Compositions []*Composition
}

// Composition links a parent entity to a contained child entity.
type Composition struct {
	Name   string
	Target *Entity
}

// HoldsContent reports whether rows of the entity carry binary content.
func (e *Entity) HoldsContent() bool {
	return e.Kind == KindAttachments || e.Kind == KindImage
}

// Composition returns the composition named name.
func (e *Entity) Composition(name string) (*Composition, bool) {
	for _, composition := range e.Compositions {
		if composition.Name == name {
			return composition, true
		}
	}
	return nil, false
}

// Visitor is invoked for every composition below an entity. trail lists the
// compositions walked from the start entity, the last one leads to target.
type Visitor func(trail []*Composition, target *Entity) error

// Walk visits all compositions reachable from e depth first.
func (e *Entity) Walk(visit Visitor) error {
	return e.walk(nil, visit)
}

func (e *Entity) walk(trail []*Composition, visit Visitor) error {
	for _, composition := range e.Compositions {
		next := append(append([]*Composition(nil), trail...), composition)
		if err := visit(next, composition.Target); err != nil {
			return err
		}
		if err := composition.Target.walk(next, visit); err != nil {
			return err
		}
	}
	return nil
}

// ContentEntities returns all content holding entities at or below e.
func (e *Entity) ContentEntities() []*Entity {
	var result []*Entity
	if e.HoldsContent() {
		result = append(result, e)
	}
	_ = e.Walk(func(trail []*Composition, target *Entity) error {
		if target.HoldsContent() {
			result = append(result, target)
		}
		return nil
	})
	return result
}

// Model indexes every entity of the configured composition trees by name.
type Model struct {
	roots    map[string]*Entity
	entities map[string]*Entity
}

// Load builds the model from the entity configuration.
func Load(entities []config.EntityConfig) (*Model, error) {
	model := &Model{
		roots:    make(map[string]*Entity),
		entities: make(map[string]*Entity),
	}

	for _, cfg := range entities {
		if cfg.Name == "" {
			return nil, fmt.Errorf("entity without name")
		}
		if strings.ContainsAny(cfg.Name, "./()") {
			return nil, fmt.Errorf("invalid entity name '%s'", cfg.Name)
		}

		kind := KindEntity
		if cfg.Kind == string(KindImage) {
			kind = KindImage
		}

		root := &Entity{
			Name:  cfg.Name,
			Kind:  kind,
			Keys:  cfg.Keys,
			Draft: cfg.Draft,
		}
		if err := applyAnnotations(root, cfg.MaxContentSize, cfg.AcceptableMediaTypes); err != nil {
			return nil, err
		}

		if root.HoldsContent() && len(root.Keys) == 0 {
			root.Keys = []string{"ID"}
		}
		if len(root.Keys) == 0 {
			return nil, fmt.Errorf("entity '%s' declares no keys", cfg.Name)
		}

		if err := model.register(root); err != nil {
			return nil, err
		}
		model.roots[root.Name] = root

		if err := model.loadCompositions(root, cfg.Compositions); err != nil {
			return nil, err
		}
	}

	return model, nil
}

func (m *Model) loadCompositions(parent *Entity, compositions []config.CompositionConfig) error {
	for _, cfg := range compositions {
		if cfg.Name == "" {
			return fmt.Errorf("composition without name below '%s'", parent.Name)
		}
		if parent.HoldsContent() {
			return fmt.Errorf("attachment entity '%s' cannot own compositions", parent.Name)
		}

		child := &Entity{
			Name:   parent.Name + "." + cfg.Name,
			Kind:   KindEntity,
			Keys:   cfg.Keys,
			Draft:  parent.Draft,
			Parent: parent,
		}
		for _, key := range parent.Keys {
			child.UpKeys = append(child.UpKeys, UpPrefix+key)
		}

		switch cfg.Kind {
		case string(KindAttachments):
			child.Kind = KindAttachments
			child.Keys = []string{"ID"}
			if err := applyAnnotations(child, cfg.MaxContentSize, cfg.AcceptableMediaTypes); err != nil {
				return err
			}
		case "", "composition", string(KindEntity):
			if len(child.Keys) == 0 {
				return fmt.Errorf("composition '%s' declares no keys", child.Name)
			}
		default:
			return fmt.Errorf("composition '%s' has unsupported kind '%s'", child.Name, cfg.Kind)
		}

		if err := m.register(child); err != nil {
			return err
		}
		parent.Compositions = append(parent.Compositions, &Composition{Name: cfg.Name, Target: child})

		if err := m.loadCompositions(child, cfg.Compositions); err != nil {
			return err
		}
	}
	return nil
}

func applyAnnotations(entity *Entity, maxSize string, mediaTypes []string) error {
	if maxSize == "" {
		maxSize = DefaultMaxContentSize
	}

	size, err := humanize.ParseBytes(maxSize)
	if err != nil {
		return fmt.Errorf("invalid max content size '%s' on '%s': %w", maxSize, entity.Name, err)
	}

	entity.MaxContentSize = int64(size)
	entity.AcceptableMediaTypes = mediaTypes
	return nil
}

func (m *Model) register(entity *Entity) error {
	if _, exists := m.entities[entity.Name]; exists {
		return fmt.Errorf("entity '%s' declared twice", entity.Name)
	}
	m.entities[entity.Name] = entity
	return nil
}

// Entity returns the entity with the full name, e.g. `Incidents.attachments`.
func (m *Model) Entity(name string) (*Entity, bool) {
	entity, ok := m.entities[name]
	return entity, ok
}

// ContentEntities returns every content holding entity of the model.
func (m *Model) ContentEntities() []*Entity {
	var result []*Entity
	for _, root := range m.roots {
		result = append(result, root.ContentEntities()...)
	}
	return result
}
