// Package paths implements dot/bracket path access over nested JSON-like
// values (map[string]any and []any containers).
//
// A path looks like "config.max", "tasks[0].title" or "users[alice].email".
// Bracketed decimal segments index sequences; everything else keys maps.
package paths

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrPathNotFound is returned when traversal cannot proceed.
	ErrPathNotFound = errors.New("path not found")
	// ErrEmptyPath is returned when a mutating operation receives the root.
	ErrEmptyPath = errors.New("path is empty")
)

// Segment is one step of a parsed path. A numeric bracket segment carries
// both forms: Index applies when the container is a sequence, Key when it
// is a map.
type Segment struct {
	Key     string
	Index   int
	Numeric bool
}

// Parse splits a path into segments. Separators ('.', '[', ']') that do not
// form a complete bracket expression are skipped, so malformed input
// degrades to plain word segments rather than failing.
func Parse(path string) []Segment {
	if path == "" {
		return nil
	}
	var segs []Segment
	i := 0
	for i < len(path) {
		c := path[i]
		if c == '.' || c == ']' {
			i++
			continue
		}
		if c == '[' {
			end := strings.IndexByte(path[i+1:], ']')
			if end > 0 {
				content := path[i+1 : i+1+end]
				seg := Segment{Key: content}
				if n, err := strconv.Atoi(content); err == nil && n >= 0 && !strings.HasPrefix(content, "+") {
					seg.Index = n
					seg.Numeric = true
				}
				segs = append(segs, seg)
				i += end + 2
				continue
			}
			i++
			continue
		}
		j := i
		for j < len(path) && path[j] != '.' && path[j] != '[' && path[j] != ']' {
			j++
		}
		segs = append(segs, Segment{Key: path[i:j]})
		i = j
	}
	return segs
}

// step descends one segment into a container. Numeric segments index
// sequences and fall back to the decimal string as a map key.
func step(container any, seg Segment) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		v, ok := c[seg.Key]
		return v, ok
	case []any:
		if seg.Numeric && seg.Index < len(c) {
			return c[seg.Index], true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Get returns the value at path. An empty path returns the root itself.
func Get(root map[string]any, path string) (any, error) {
	segs := Parse(path)
	if len(segs) == 0 {
		return root, nil
	}
	var current any = root
	for _, seg := range segs {
		next, ok := step(current, seg)
		if !ok {
			return nil, fmt.Errorf("path %q: %w", path, ErrPathNotFound)
		}
		current = next
	}
	return current, nil
}

// Exists reports whether path resolves to a value.
func Exists(root map[string]any, path string) bool {
	_, err := Get(root, path)
	return err == nil
}

// Set writes value at path, creating intermediate maps for missing keys.
// Sequence indices must already exist. Setting the root is an error.
func Set(root map[string]any, path string, value any) error {
	segs := Parse(path)
	if len(segs) == 0 {
		return ErrEmptyPath
	}
	var current any = root
	for _, seg := range segs[:len(segs)-1] {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[seg.Key]
			if !ok {
				next = map[string]any{}
				c[seg.Key] = next
			}
			current = next
		case []any:
			if !seg.Numeric || seg.Index >= len(c) {
				return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
			}
			current = c[seg.Index]
		default:
			return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
		}
	}
	final := segs[len(segs)-1]
	switch c := current.(type) {
	case map[string]any:
		c[final.Key] = value
	case []any:
		if !final.Numeric || final.Index >= len(c) {
			return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
		}
		c[final.Index] = value
	default:
		return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
	}
	return nil
}

// Delete removes the value at path. Deleting from a sequence shifts later
// elements down. Deleting the root is an error.
func Delete(root map[string]any, path string) error {
	segs := Parse(path)
	if len(segs) == 0 {
		return ErrEmptyPath
	}
	if len(segs) == 1 {
		return deleteFrom(root, segs[0], path)
	}
	// Walk to the grandparent so sequence removal can write the shortened
	// slice back into its holder.
	var holder any = root
	for _, seg := range segs[:len(segs)-2] {
		next, ok := step(holder, seg)
		if !ok {
			return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
		}
		holder = next
	}
	parentSeg := segs[len(segs)-2]
	parent, ok := step(holder, parentSeg)
	if !ok {
		return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
	}
	final := segs[len(segs)-1]
	if seq, isSeq := parent.([]any); isSeq && final.Numeric {
		if final.Index >= len(seq) {
			return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
		}
		shortened := append(seq[:final.Index:final.Index], seq[final.Index+1:]...)
		return writeBack(holder, parentSeg, shortened, path)
	}
	return deleteFrom(parent, final, path)
}

// deleteFrom removes a map entry; sequence entries go through the
// shift-and-write-back branch in Delete.
func deleteFrom(parent any, seg Segment, path string) error {
	m, ok := parent.(map[string]any)
	if !ok {
		return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
	}
	if _, present := m[seg.Key]; !present {
		return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
	}
	delete(m, seg.Key)
	return nil
}

func writeBack(holder any, seg Segment, value any, path string) error {
	switch h := holder.(type) {
	case map[string]any:
		h[seg.Key] = value
		return nil
	case []any:
		if seg.Numeric && seg.Index < len(h) {
			h[seg.Index] = value
			return nil
		}
	}
	return fmt.Errorf("path %q: %w", path, ErrPathNotFound)
}

// Move relocates the value at from to to. The source is read first, then
// written to the destination, then deleted; a failed read or write leaves
// the tree untouched.
func Move(root map[string]any, from, to string) error {
	value, err := Get(root, from)
	if err != nil {
		return err
	}
	if err := Set(root, to, value); err != nil {
		return err
	}
	return Delete(root, from)
}
