// Package propmap provides a hierarchical, path keyed store for typed
// metadata. Paths are sequences of segments joined by "/"; a node is either a
// leaf holding exactly one value.Value or a branch holding further nodes.
// Insertion order is preserved so serialization is deterministic.
package propmap

import (
	"errors"
	"fmt"
	"strings"

	"mrivista/pkg/value"
)

// Separator joins path segments.
const Separator = "/"

var (
	// ErrPathConflict is returned when a path would resolve to both a leaf and a branch.
	ErrPathConflict = errors.New("path conflict")
	// ErrPropertyMissing is returned when no leaf exists at a path.
	ErrPropertyMissing = errors.New("property missing")
	// ErrInvalidPath is returned for paths without any segment.
	ErrInvalidPath = errors.New("invalid path")
)

type node struct {
	isLeaf   bool
	leaf     value.Value
	children map[string]*node
	order    []string
}

func newBranch() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) child(name string) *node {
	if n == nil || n.isLeaf {
		return nil
	}
	return n.children[name]
}

func (n *node) addChild(name string, c *node) {
	if _, ok := n.children[name]; !ok {
		n.order = append(n.order, name)
	}
	n.children[name] = c
}

func (n *node) removeChild(name string) {
	if _, ok := n.children[name]; !ok {
		return
	}
	delete(n.children, name)
	for i, o := range n.order {
		if o == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

func (n *node) clone() *node {
	if n.isLeaf {
		return &node{isLeaf: true, leaf: n.leaf}
	}
	c := newBranch()
	for _, name := range n.order {
		c.addChild(name, n.children[name].clone())
	}
	return c
}

// Map is an ordered tree of properties. The zero value is not usable; create
// maps with New.
type Map struct {
	root *node
}

// New returns an empty map.
func New() *Map {
	return &Map{root: newBranch()}
}

// SplitPath breaks a path into its segments, ignoring empty ones.
func SplitPath(path string) []string {
	parts := strings.Split(path, Separator)
	segs := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// JoinPath joins segments into a path.
func JoinPath(segs ...string) string {
	return strings.Join(SplitPath(strings.Join(segs, Separator)), Separator)
}

func (m *Map) lookup(path string) *node {
	if m == nil {
		return nil
	}
	n := m.root
	for _, seg := range SplitPath(path) {
		if n = n.child(seg); n == nil {
			return nil
		}
	}
	return n
}

// Set stores v at path, creating intermediate branches. It fails with
// ErrPathConflict if path, or one of its prefixes, is held by the other kind
// of node.
func (m *Map) Set(path string, v value.Value) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("set %q: %w", path, ErrInvalidPath)
	}
	if !v.IsValid() {
		return fmt.Errorf("set %q: invalid value: %w", path, value.ErrTypeMismatch)
	}
	n := m.root
	for i, seg := range segs[:len(segs)-1] {
		c := n.children[seg]
		switch {
		case c == nil:
			c = newBranch()
			n.addChild(seg, c)
		case c.isLeaf:
			return fmt.Errorf("set %q: %q is a property: %w", path, JoinPath(segs[:i+1]...), ErrPathConflict)
		}
		n = c
	}
	last := segs[len(segs)-1]
	if c := n.children[last]; c != nil && !c.isLeaf {
		return fmt.Errorf("set %q: path is a branch: %w", path, ErrPathConflict)
	}
	n.addChild(last, &node{isLeaf: true, leaf: v})
	return nil
}

// Get returns the value stored at path.
func (m *Map) Get(path string) (value.Value, error) {
	n := m.lookup(path)
	if n == nil || !n.isLeaf {
		return value.Value{}, fmt.Errorf("%q: %w", path, ErrPropertyMissing)
	}
	return n.leaf, nil
}

// Has reports whether a leaf exists at path.
func (m *Map) Has(path string) bool {
	n := m.lookup(path)
	return n != nil && n.isLeaf
}

// HasBranch reports whether a branch exists at path.
func (m *Map) HasBranch(path string) bool {
	if len(SplitPath(path)) == 0 {
		return false
	}
	n := m.lookup(path)
	return n != nil && !n.isLeaf
}

// Branch returns a copy of the branch at path. A missing branch yields an empty map.
func (m *Map) Branch(path string) *Map {
	n := m.lookup(path)
	if n == nil || n.isLeaf {
		return New()
	}
	return &Map{root: n.clone()}
}

// MutableBranch returns a map sharing storage with the branch at path,
// creating the branch if needed. Edits through it are visible in m.
func (m *Map) MutableBranch(path string) (*Map, error) {
	n := m.root
	for _, seg := range SplitPath(path) {
		c := n.children[seg]
		switch {
		case c == nil:
			c = newBranch()
			n.addChild(seg, c)
		case c.isLeaf:
			return nil, fmt.Errorf("branch %q: %w", path, ErrPathConflict)
		}
		n = c
	}
	return &Map{root: n}, nil
}

// Remove deletes the leaf or branch at path and prunes branches left empty.
// It reports whether anything was removed.
func (m *Map) Remove(path string) bool {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	trail := []*node{m.root}
	n := m.root
	for _, seg := range segs[:len(segs)-1] {
		if n = n.child(seg); n == nil {
			return false
		}
		trail = append(trail, n)
	}
	if n.child(segs[len(segs)-1]) == nil {
		return false
	}
	n.removeChild(segs[len(segs)-1])
	for i := len(trail) - 1; i > 0; i-- {
		if len(trail[i].children) > 0 {
			break
		}
		trail[i-1].removeChild(segs[i-1])
	}
	return true
}

// Keys returns the full paths of all leaves in insertion order.
func (m *Map) Keys() []string {
	var keys []string
	if m == nil {
		return keys
	}
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		for _, name := range n.order {
			c := n.children[name]
			p := name
			if prefix != "" {
				p = prefix + Separator + name
			}
			if c.isLeaf {
				keys = append(keys, p)
			} else {
				walk(c, p)
			}
		}
	}
	walk(m.root, "")
	return keys
}

// Len returns the number of leaves.
func (m *Map) Len() int { return len(m.Keys()) }

// IsEmpty reports whether the map holds no leaves.
func (m *Map) IsEmpty() bool { return m == nil || len(m.root.children) == 0 }

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return New()
	}
	return &Map{root: m.root.clone()}
}

// Join merges other into m. Leaves missing in m are added. Where both maps
// hold a different value at the same path, m keeps its own value unless
// overwrite is set. Paths that are a branch on one side and a leaf on the
// other are never merged. The returned paths name every leaf of other that
// collided with existing content, whether it was overwritten or not, so the
// caller can report it.
func (m *Map) Join(other *Map, overwrite bool) []string {
	var conflicts []string
	if other == nil {
		return conflicts
	}
	for _, key := range other.Keys() {
		v, _ := other.Get(key)
		if m.HasBranch(key) {
			conflicts = append(conflicts, key)
			continue
		}
		if existing, err := m.Get(key); err == nil {
			if existing.Equal(v) {
				continue
			}
			conflicts = append(conflicts, key)
			if !overwrite {
				continue
			}
		}
		if err := m.Set(key, v); err != nil {
			conflicts = append(conflicts, key)
		}
	}
	return conflicts
}

// Equal reports whether both maps hold the same leaves with equal values.
// Insertion order is not compared.
func (m *Map) Equal(o *Map) bool {
	keys := m.Keys()
	if len(keys) != len(o.Keys()) {
		return false
	}
	for _, k := range keys {
		a, _ := m.Get(k)
		b, err := o.Get(k)
		if err != nil || !a.Equal(b) {
			return false
		}
	}
	return true
}

// Diff returns the paths present in only one of the maps or holding different values.
func (m *Map) Diff(o *Map) []string {
	var diff []string
	for _, k := range m.Keys() {
		a, _ := m.Get(k)
		if b, err := o.Get(k); err != nil || !a.Equal(b) {
			diff = append(diff, k)
		}
	}
	for _, k := range o.Keys() {
		if !m.Has(k) {
			diff = append(diff, k)
		}
	}
	return diff
}

// String renders one "path=value" line per leaf.
func (m *Map) String() string {
	var b strings.Builder
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		fmt.Fprintf(&b, "%s=%s (%s)\n", k, v, v.TypeID())
	}
	return b.String()
}

// Put stores a Go value at path.
func Put[T value.Type](m *Map, path string, x T) error {
	return m.Set(path, value.Of(x))
}

// GetAs reads the value at path converted to T.
func GetAs[T value.Type](m *Map, path string) (T, error) {
	var zero T
	v, err := m.Get(path)
	if err != nil {
		return zero, err
	}
	x, err := value.As[T](v)
	if err != nil {
		return zero, fmt.Errorf("%q: %w", path, err)
	}
	return x, nil
}
