// Package container holds small generic value types shared by the parser
// and the model.
package container

import (
	"encoding/json"
	"fmt"
)

// Option is a value that may be absent.
type Option[T any] struct {
	v   T
	set bool
}

func (opt Option[T]) String() string {
	if !opt.set {
		return "None"
	}
	return fmt.Sprintf("%v", opt.v)
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func Some[T any](v T) Option[T] {
	return Option[T]{v: v, set: true}
}

func (opt Option[T]) Get() (T, bool) {
	return opt.v, opt.set
}

func (opt Option[T]) GetOr(alt T) T {
	if opt.set {
		return opt.v
	}
	return alt
}

func (opt Option[T]) Set() bool {
	return opt.set
}

func (opt Option[T]) MustGet() T {
	if !opt.set {
		panic("called MustGet on unset Option")
	}
	return opt.v
}

// IsZero reports whether opt is unset, so `json:",omitzero"` drops it.
func (opt Option[T]) IsZero() bool {
	return !opt.set
}

func (opt Option[T]) MarshalJSON() ([]byte, error) {
	if !opt.set {
		return []byte("null"), nil
	}
	return json.Marshal(opt.v)
}

func (opt *Option[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*opt = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*opt = Some(v)
	return nil
}
