package cacher

import "sync"

// Const caches the result of a loader function, computed at most once.
type Const struct {
	sync.Once
	value interface{}
	load  func() interface{}
}

// NewConst returns a Const backed by load.
func NewConst(load func() interface{}) *Const {
	if load == nil {
		panic("nil loader func")
	}
	return &Const{
		value: nil,
		load:  load,
	}
}

// IsLoaded returns if the const is loaded.
func (c *Const) IsLoaded() bool {
	return c.value != nil
}

// Get returns the cached value pointer.
func (c *Const) Get() interface{} {
	c.Do(func() {
		v := c.load()
		if v == nil {
			panic("invalid loader")
		}
		c.value = v
	})
	return c.value
}

// Clear drops the cached value so the next Get reloads it.
func (c *Const) Clear() {
	c.Once = sync.Once{}
}
