package schema

import (
	"fmt"
	"strings"
)

// Target is a resolved addressing path: the entity it points at, the key
// values collected along the way and an optional trailing property.
type Target struct {
	Entity *Entity
	Path   Path
	// Item is true when the last entity segment carries a key predicate.
	Item bool
	// Property is a trailing non-composition segment, e.g. `content` or `draftEdit`.
	Property string
	// Draft addresses the draft shadow of the entity instance.
	Draft bool
}

// Resolve parses raw and resolves it against the model.
func (m *Model) Resolve(raw string) (Target, error) {
	path, err := ParsePath(raw)
	if err != nil {
		return Target{}, err
	}
	return m.ResolvePath(path)
}

// ResolvePath resolves the segments of path against the composition tree.
func (m *Model) ResolvePath(path Path) (Target, error) {
	if len(path) == 0 {
		return Target{}, fmt.Errorf("empty path")
	}

	root, ok := m.roots[path[0].Name]
	if !ok {
		return Target{}, fmt.Errorf("unknown entity '%s'", path[0].Name)
	}

	resolved := make(Path, 0, len(path))
	target := Target{Entity: root}
	current := root

	for i, segment := range path {
		if i > 0 {
			if !target.Item {
				return Target{}, fmt.Errorf("segment '%s' follows collection '%s'", segment.Name, current.Name)
			}

			composition, ok := current.Composition(segment.Name)
			if !ok {
				if segment.Raw != "" || i != len(path)-1 {
					return Target{}, fmt.Errorf("entity '%s' has no composition '%s'", current.Name, segment.Name)
				}
				target.Property = segment.Name
				break
			}
			current = composition.Target
		}

		target.Item = segment.Raw != ""
		if target.Item {
			keys, err := parsePredicate(segment.Raw, current.Keys)
			if err != nil {
				return Target{}, fmt.Errorf("invalid keys for '%s': %w", current.Name, err)
			}
			segment.Keys = keys
		}

		resolved = append(resolved, segment)
	}

	target.Entity = current
	target.Path = resolved
	return target, nil
}

// Keys returns the key values of the addressed instance, nil for collections.
func (t Target) Keys() Keys {
	if !t.Item {
		return nil
	}
	return t.Path[len(t.Path)-1].Keys
}

// ID returns the `ID` key of the addressed instance.
func (t Target) ID() string {
	return t.Keys()["ID"]
}

// ParentKeys returns the keys of the parent instance owning the addressed
// entity, nil for root entities.
func (t Target) ParentKeys() Keys {
	if len(t.Path) < 2 {
		return nil
	}
	return t.Path[len(t.Path)-2].Keys
}

// UpKeys maps the parent keys onto the up__ foreign key fields.
func (t Target) UpKeys() Keys {
	parent := t.ParentKeys()
	if parent == nil || t.Entity.Parent == nil {
		return nil
	}

	result := Keys{}
	for _, key := range t.Entity.Parent.Keys {
		result[UpPrefix+key] = parent[key]
	}
	return result
}

// ParentPath is the canonical path of the parent instance, e.g.
// `Incidents(1)/conversations(7)`. Empty for root entities.
func (t Target) ParentPath() string {
	if len(t.Path) < 2 {
		return ""
	}
	return canonical(t.Entity.Parent, t.Path[:len(t.Path)-1])
}

// InstancePath is the canonical path of the addressed instance itself.
func (t Target) InstancePath() string {
	if !t.Item {
		return ""
	}
	return canonical(t.Entity, t.Path)
}

// Child returns a target addressing the collection of composition name below
// the addressed instance.
func (t Target) Child(name string) (Target, error) {
	if !t.Item {
		return Target{}, fmt.Errorf("cannot descend from collection '%s'", t.Entity.Name)
	}

	composition, ok := t.Entity.Composition(name)
	if !ok {
		return Target{}, fmt.Errorf("entity '%s' has no composition '%s'", t.Entity.Name, name)
	}

	path := append(append(Path(nil), t.Path...), Segment{Name: name})
	return Target{Entity: composition.Target, Path: path, Draft: t.Draft}, nil
}

// WithKeys returns a target addressing the instance of the same collection
// identified by keys.
func (t Target) WithKeys(keys Keys) Target {
	path := append(Path(nil), t.Path...)
	last := path[len(path)-1]
	last.Keys = keys
	last.Raw = FormatKeys(keys, t.Entity.Keys)
	path[len(path)-1] = last

	return Target{Entity: t.Entity, Path: path, Item: true, Draft: t.Draft}
}

// Collection drops the key predicate of the last segment.
func (t Target) Collection() Target {
	path := append(Path(nil), t.Path...)
	path[len(path)-1] = Segment{Name: path[len(path)-1].Name}
	return Target{Entity: t.Entity, Path: path, Draft: t.Draft}
}

func (t Target) String() string {
	path := t.Path.String()
	if t.Property != "" {
		path += "/" + t.Property
	}
	return path
}

// canonical renders path with keys in their canonical order, walking from
// entity upwards so composition names are taken from the path itself.
func canonical(entity *Entity, path Path) string {
	parts := make([]string, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		segment := path[i]
		if entity != nil && segment.Keys != nil {
			parts[i] = fmt.Sprintf("%s(%s)", segment.Name, FormatKeys(segment.Keys, entity.Keys))
		} else {
			parts[i] = segment.String()
		}
		if entity != nil {
			entity = entity.Parent
		}
	}
	return strings.Join(parts, "/")
}
