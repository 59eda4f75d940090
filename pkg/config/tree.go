package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Tree is a loaded JSON config exposed as nested, dotted-path attributes.
// Keys are case-insensitive.
type Tree struct {
	source string
	v      *viper.Viper
}

func newTree(source string, v *viper.Viper) *Tree {
	return &Tree{source: source, v: v}
}

// Source names the file (or merge of files) the tree was loaded from.
func (t *Tree) Source() string {
	return t.source
}

func (t *Tree) Has(key string) bool {
	return t.v.IsSet(key)
}

// Get returns the raw value at key, or a *MissingAttributeError.
func (t *Tree) Get(key string) (interface{}, error) {
	if !t.v.IsSet(key) {
		return nil, &MissingAttributeError{Source: t.source, Key: key}
	}
	return t.v.Get(key), nil
}

func (t *Tree) String(key string) (string, error) {
	val, err := t.Get(key)
	if err != nil {
		return "", err
	}
	s, err := cast.ToStringE(val)
	if err != nil {
		return "", t.typeErr(key, err)
	}
	return s, nil
}

func (t *Tree) Int(key string) (int, error) {
	val, err := t.Get(key)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToIntE(val)
	if err != nil {
		return 0, t.typeErr(key, err)
	}
	return i, nil
}

func (t *Tree) Bool(key string) (bool, error) {
	val, err := t.Get(key)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return false, t.typeErr(key, err)
	}
	return b, nil
}

func (t *Tree) Float(key string) (float64, error) {
	val, err := t.Get(key)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(val)
	if err != nil {
		return 0, t.typeErr(key, err)
	}
	return f, nil
}

func (t *Tree) StringSlice(key string) ([]string, error) {
	val, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	s, err := cast.ToStringSliceE(val)
	if err != nil {
		return nil, t.typeErr(key, err)
	}
	return s, nil
}

// Duration reads a number of seconds, or a Go duration string such as "90s".
func (t *Tree) Duration(key string) (time.Duration, error) {
	val, err := t.Get(key)
	if err != nil {
		return 0, err
	}
	if s, ok := val.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, t.typeErr(key, err)
		}
		return d, nil
	}
	secs, err := cast.ToFloat64E(val)
	if err != nil {
		return 0, t.typeErr(key, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Sub returns the nested mapping at key as its own Tree.
func (t *Tree) Sub(key string) (*Tree, error) {
	if !t.v.IsSet(key) {
		return nil, &MissingAttributeError{Source: t.source, Key: key}
	}
	sub := t.v.Sub(key)
	if sub == nil {
		return nil, t.typeErr(key, fmt.Errorf("not a mapping"))
	}
	return newTree(t.source+"#"+key, sub), nil
}

// Keys returns the sorted top-level keys.
func (t *Tree) Keys() []string {
	settings := t.v.AllSettings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode unmarshals the tree into a typed struct using mapstructure tags.
func (t *Tree) Decode(out interface{}) error {
	if err := t.v.Unmarshal(out); err != nil {
		return fmt.Errorf("config %s: decode: %w", t.source, err)
	}
	return nil
}

func (t *Tree) typeErr(key string, err error) error {
	return fmt.Errorf("config %s: attribute %q: %w", t.source, key, err)
}
