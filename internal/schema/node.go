package schema

import "fmt"

// Node is one instance of a deep update payload. Compositions hold the
// complete child collections; children missing from a collection are
// considered removed.
type Node struct {
	Keys         Keys              `json:"keys"`
	Compositions map[string][]Node `json:"compositions,omitempty"`
}

// Validate checks that every child names a composition of entity and
// carries all of its key fields.
func (n Node) Validate(entity *Entity) error {
	for name, children := range n.Compositions {
		composition, ok := entity.Composition(name)
		if !ok {
			return fmt.Errorf("entity '%s' has no composition '%s'", entity.Name, name)
		}

		for _, child := range children {
			for _, key := range composition.Target.Keys {
				if child.Keys[key] == "" {
					return fmt.Errorf("child of '%s' misses key '%s'", composition.Target.Name, key)
				}
			}
			if err := child.Validate(composition.Target); err != nil {
				return err
			}
		}
	}
	return nil
}
