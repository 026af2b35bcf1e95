// Package settings is a small hierarchical key/value store with ordered keys.
// Values are scalars (int, float, bool, string) or nested settings blocks.
// The YAML encoding keeps key order and formats floats with full precision,
// so a save/load cycle reproduces every value exactly.
package settings

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotFound is returned when a requested key does not exist.
var ErrKeyNotFound = errors.New("settings: key not found")

type entry struct {
	key    string
	scalar string
	child  *Settings
}

// Settings is a named, ordered collection of entries.
type Settings struct {
	key     string
	entries []entry
	index   map[string]int
}

// New creates an empty settings block.
func New(key string) *Settings {
	return &Settings{key: key, index: map[string]int{}}
}

// Key returns the block's name.
func (s *Settings) Key() string {
	return s.key
}

// Keys returns all keys in insertion order.
func (s *Settings) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// Contains reports whether the key exists.
func (s *Settings) Contains(key string) bool {
	_, ok := s.index[key]
	return ok
}

func (s *Settings) put(e entry) {
	if i, ok := s.index[e.key]; ok {
		s.entries[i] = e
		return
	}
	s.index[e.key] = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *Settings) AddInt(key string, v int) {
	s.put(entry{key: key, scalar: strconv.Itoa(v)})
}

func (s *Settings) AddDouble(key string, v float64) {
	s.put(entry{key: key, scalar: strconv.FormatFloat(v, 'g', -1, 64)})
}

func (s *Settings) AddBool(key string, v bool) {
	s.put(entry{key: key, scalar: strconv.FormatBool(v)})
}

func (s *Settings) AddString(key, v string) {
	s.put(entry{key: key, scalar: v})
}

// AddSettings creates and returns a nested block under key.
func (s *Settings) AddSettings(key string) *Settings {
	child := New(key)
	s.put(entry{key: key, child: child})
	return child
}

func (s *Settings) scalar(key string) (string, error) {
	i, ok := s.index[key]
	if !ok {
		return "", fmt.Errorf("%w: %q in %q", ErrKeyNotFound, key, s.key)
	}
	e := s.entries[i]
	if e.child != nil {
		return "", fmt.Errorf("settings: %q in %q is a block, not a value", key, s.key)
	}
	return e.scalar, nil
}

func (s *Settings) GetInt(key string) (int, error) {
	raw, err := s.scalar(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("settings: %q in %q is not an int: %w", key, s.key, err)
	}
	return v, nil
}

func (s *Settings) GetDouble(key string) (float64, error) {
	raw, err := s.scalar(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: %q in %q is not a double: %w", key, s.key, err)
	}
	return v, nil
}

func (s *Settings) GetBool(key string) (bool, error) {
	raw, err := s.scalar(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("settings: %q in %q is not a bool: %w", key, s.key, err)
	}
	return v, nil
}

func (s *Settings) GetString(key string) (string, error) {
	return s.scalar(key)
}

// GetSettings returns the nested block stored under key.
func (s *Settings) GetSettings(key string) (*Settings, error) {
	i, ok := s.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrKeyNotFound, key, s.key)
	}
	if s.entries[i].child == nil {
		return nil, fmt.Errorf("settings: %q in %q is a value, not a block", key, s.key)
	}
	return s.entries[i].child, nil
}

// MarshalYAML encodes the block as an ordered mapping.
func (s *Settings) MarshalYAML() (interface{}, error) {
	return s.node(), nil
}

func (s *Settings) node() *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range s.entries {
		k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.key}
		var v *yaml.Node
		if e.child != nil {
			v = e.child.node()
		} else {
			v = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.scalar}
		}
		n.Content = append(n.Content, k, v)
	}
	return n
}

// UnmarshalYAML decodes an ordered mapping produced by MarshalYAML.
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	if s.index == nil {
		s.index = map[string]int{}
	}
	return s.fromNode(value)
}

func (s *Settings) fromNode(n *yaml.Node) error {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("settings: expected mapping for %q, got kind %d at line %d", s.key, n.Kind, n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		v := n.Content[i+1]
		switch v.Kind {
		case yaml.MappingNode:
			child := New(key)
			if err := child.fromNode(v); err != nil {
				return err
			}
			s.put(entry{key: key, child: child})
		case yaml.ScalarNode:
			s.put(entry{key: key, scalar: v.Value})
		default:
			return fmt.Errorf("settings: unsupported value for %q at line %d", key, v.Line)
		}
	}
	return nil
}

// Encode returns the YAML document for s.
func Encode(s *Settings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding settings %q: %w", s.key, err)
	}
	return data, nil
}

// Decode parses a YAML document into a settings block named key.
func Decode(key string, data []byte) (*Settings, error) {
	s := New(key)
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decoding settings %q: %w", key, err)
	}
	return s, nil
}
