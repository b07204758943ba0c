package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Keys holds the key values of one entity instance by field name.
type Keys map[string]string

// Segment is one step of an addressing path, e.g. `conversations(7)`.
type Segment struct {
	Name string
	// Raw key predicate as written in the path, empty for collections
	Raw string
	// Keys resolved against the entity definition
	Keys Keys
}

func (s Segment) String() string {
	if s.Raw == "" {
		return s.Name
	}
	return fmt.Sprintf("%s(%s)", s.Name, s.Raw)
}

// Path is a parsed addressing path such as `Incidents(1)/attachments(abc)/content`.
type Path []Segment

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, segment := range p {
		parts[i] = segment.String()
	}
	return strings.Join(parts, "/")
}

// ParsePath splits raw into segments and key predicates. Keys are resolved
// later against the model, since unnamed predicates depend on the entity.
func ParsePath(raw string) (Path, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil, fmt.Errorf("empty path")
	}

	var path Path
	for _, part := range strings.Split(raw, "/") {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path '%s'", raw)
		}

		open := strings.IndexByte(part, '(')
		if open < 0 {
			path = append(path, Segment{Name: part})
			continue
		}

		if !strings.HasSuffix(part, ")") || open == 0 {
			return nil, fmt.Errorf("malformed segment '%s'", part)
		}

		predicate := part[open+1 : len(part)-1]
		if predicate == "" {
			return nil, fmt.Errorf("empty key predicate in segment '%s'", part)
		}
		path = append(path, Segment{Name: part[:open], Raw: predicate})
	}

	return path, nil
}

// parsePredicate resolves a key predicate against the entity key fields.
// `7` is accepted for single-key entities, `ID=7,version=2` for any entity.
func parsePredicate(raw string, keys []string) (Keys, error) {
	if !strings.Contains(raw, "=") {
		if len(keys) != 1 {
			return nil, fmt.Errorf("unnamed key '%s' requires exactly one key field, entity has %d", raw, len(keys))
		}
		return Keys{keys[0]: unquote(raw)}, nil
	}

	result := Keys{}
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed key predicate '%s'", raw)
		}
		result[strings.TrimSpace(name)] = unquote(strings.TrimSpace(value))
	}

	for _, key := range keys {
		if _, ok := result[key]; !ok {
			return nil, fmt.Errorf("missing key field '%s' in predicate '%s'", key, raw)
		}
	}

	return result, nil
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		return value[1 : len(value)-1]
	}
	return value
}

// FormatKeys renders keys in the canonical predicate form used for parent paths.
func FormatKeys(keys Keys, fields []string) string {
	if len(fields) == 1 {
		return keys[fields[0]]
	}

	names := append([]string(nil), fields...)
	if len(names) == 0 {
		for name := range keys {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, keys[name]))
	}
	return strings.Join(pairs, ",")
}
