package pmx

import (
	"errors"
	"fmt"
)

// Named is implemented by every element stored in a Collection.
type Named interface {
	comparable
	GetName() string
	setName(name string)
}

// Collection is an ordered list of uniquely named elements with O(1) lookup by name.
// Names must be changed through Rename so that the lookup cache stays valid.
type Collection[T Named] struct {
	kind  string
	items []T
	index map[string]int
}

func NewCollection[T Named](kind string, items ...T) *Collection[T] {
	c := &Collection[T]{kind: kind, index: map[string]int{}}
	c.items = append(c.items, items...)
	c.rebuild()
	return c
}

// rebuild recomputes the name cache. The first occurrence of a duplicated name wins.
func (c *Collection[T]) rebuild() {
	c.index = make(map[string]int, len(c.items))
	for i, item := range c.items {
		if _, ok := c.index[item.GetName()]; !ok {
			c.index[item.GetName()] = i
		}
	}
}

func (c *Collection[T]) check(item T, skip int) error {
	name := item.GetName()
	if name == "" {
		return &ValidationError{Kind: c.kind, Index: -1, Reason: "empty name"}
	}
	if i, ok := c.index[name]; ok && i != skip {
		return &ValidationError{Kind: c.kind, Index: i, Name: name, Reason: "duplicate name"}
	}
	return nil
}

// push appends without validation. Used by the loader only.
func (c *Collection[T]) push(item T) {
	c.items = append(c.items, item)
	if _, ok := c.index[item.GetName()]; !ok {
		c.index[item.GetName()] = len(c.items) - 1
	}
}

func (c *Collection[T]) Kind() string { return c.kind }

func (c *Collection[T]) Len() int { return len(c.items) }

func (c *Collection[T]) At(i int) T { return c.items[i] }

// All returns a copy of the elements in order.
func (c *Collection[T]) All() []T {
	return append([]T(nil), c.items...)
}

func (c *Collection[T]) Get(name string) (T, bool) {
	if i, ok := c.index[name]; ok {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

func (c *Collection[T]) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

// IndexOf returns the position of the named element, or -1.
func (c *Collection[T]) IndexOf(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

// IndexOfElement finds an element by identity, or returns -1.
func (c *Collection[T]) IndexOfElement(item T) int {
	for i, it := range c.items {
		if it == item {
			return i
		}
	}
	return -1
}

// NameAt returns the name of the i-th element, or "" if i is out of range.
func (c *Collection[T]) NameAt(i int) string {
	if i < 0 || i >= len(c.items) {
		return ""
	}
	return c.items[i].GetName()
}

func (c *Collection[T]) Append(item T) error {
	if err := c.check(item, -1); err != nil {
		return err
	}
	c.items = append(c.items, item)
	c.index[item.GetName()] = len(c.items) - 1
	return nil
}

func (c *Collection[T]) Insert(i int, item T) error {
	if i < 0 || i > len(c.items) {
		return fmt.Errorf("%s index out of range: %d", c.kind, i)
	}
	if err := c.check(item, -1); err != nil {
		return err
	}
	c.items = append(c.items, item)
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
	c.rebuild()
	return nil
}

// Extend appends all items, or none of them if any is invalid.
func (c *Collection[T]) Extend(items ...T) error {
	seen := map[string]bool{}
	for _, item := range items {
		if err := c.check(item, -1); err != nil {
			return err
		}
		if seen[item.GetName()] {
			return &ValidationError{Kind: c.kind, Index: -1, Name: item.GetName(), Reason: "duplicate name"}
		}
		seen[item.GetName()] = true
	}
	c.items = append(c.items, items...)
	c.rebuild()
	return nil
}

// Set replaces the i-th element.
func (c *Collection[T]) Set(i int, item T) error {
	if i < 0 || i >= len(c.items) {
		return fmt.Errorf("%s index out of range: %d", c.kind, i)
	}
	if err := c.check(item, i); err != nil {
		return err
	}
	c.items[i] = item
	c.rebuild()
	return nil
}

// Replace swaps the element called name for item, keeping its position.
func (c *Collection[T]) Replace(name string, item T) error {
	i, ok := c.index[name]
	if !ok {
		return fmt.Errorf("%s not found: %q", c.kind, name)
	}
	return c.Set(i, item)
}

func (c *Collection[T]) RemoveAt(i int) T {
	item := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.rebuild()
	return item
}

func (c *Collection[T]) Remove(name string) (T, bool) {
	i, ok := c.index[name]
	if !ok {
		var zero T
		return zero, false
	}
	return c.RemoveAt(i), true
}

func (c *Collection[T]) Clear() {
	c.items = nil
	c.rebuild()
}

func (c *Collection[T]) Rename(oldName, newName string) error {
	i, ok := c.index[oldName]
	if !ok {
		return fmt.Errorf("%s not found: %q", c.kind, oldName)
	}
	if oldName == newName {
		return nil
	}
	if newName == "" {
		return &ValidationError{Kind: c.kind, Index: i, Name: oldName, Reason: "empty name"}
	}
	if j, ok := c.index[newName]; ok {
		return &ValidationError{Kind: c.kind, Index: j, Name: newName, Reason: "duplicate name"}
	}
	c.items[i].setName(newName)
	c.rebuild()
	return nil
}

// Validate reports every unnamed or duplicated element.
func (c *Collection[T]) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, item := range c.items {
		name := item.GetName()
		if name == "" {
			errs = append(errs, &ValidationError{Kind: c.kind, Index: i, Reason: "empty name"})
			continue
		}
		if seen[name] {
			errs = append(errs, &ValidationError{Kind: c.kind, Index: i, Name: name, Reason: "duplicate name"})
			continue
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}
