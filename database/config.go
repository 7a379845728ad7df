package database

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// maxConfigDepth bounds the nesting the walk descends into.
const maxConfigDepth = 32

var (
	declarationType = reflect.TypeOf(Declaration{})
	mapSliceType    = reflect.TypeOf(yaml.MapSlice{})
)

// AddDatabasesFrom registers the database declarations found anywhere in
// config.
//
// Every map key or struct field named "database" or "databases" contributes
// declarations: slices are spread, single values appended. Values are
// decoded from Declaration, *Declaration, or any map or struct with the
// Declaration JSON keys; anything else is ignored. All other nested maps,
// slices and structs are searched recursively, each one once, so cyclic
// graphs are fine.
//
// Resolution order decides which connection serves reads. Ordered YAML
// mappings (yaml.MapSlice, as returned by config.Load) keep their document
// order; plain Go maps are visited in sorted key order.
//
// Declarations are merged into the registered set without duplicates.
// Their shape is not validated here; Init skips ineligible ones.
func (d *Databases) AddDatabasesFrom(config any) {
	w := &walker{visited: make(map[visit]bool)}
	w.collect(reflect.ValueOf(config), 0)
	if len(w.out) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, decl := range w.out {
		if !containsDeclaration(d.configs, decl) {
			d.configs = append(d.configs, decl)
		}
	}
}

func containsDeclaration(list []Declaration, decl Declaration) bool {
	for _, existing := range list {
		if existing == decl {
			return true
		}
	}
	return false
}

func isDeclarationKey(name string) bool {
	return name == "database" || name == "databases"
}

// visit identifies a map, slice or pointer already walked.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	out     []Declaration
	visited map[visit]bool
}

// enter reports whether v is seen for the first time. Values that cannot
// form a cycle are always entered.
func (w *walker) enter(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
	default:
		return true
	}
	if v.IsNil() {
		return true
	}
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if w.visited[key] {
		return false
	}
	w.visited[key] = true
	return true
}

// deref unwraps interfaces and pointers, stopping at pointers already
// walked.
func (w *walker) deref(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		if v.Kind() == reflect.Pointer && !w.enter(v) {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

func (w *walker) collect(v reflect.Value, depth int) {
	v, ok := w.deref(v)
	if !ok || depth > maxConfigDepth || !w.enter(v) {
		return
	}
	if v.Type() == mapSliceType {
		for _, item := range v.Interface().(yaml.MapSlice) {
			w.field(keyString(reflect.ValueOf(item.Key)), reflect.ValueOf(item.Value), depth)
		}
		return
	}
	switch v.Kind() {
	case reflect.Map:
		keys := v.MapKeys()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = keyString(k)
		}
		order := make([]int, len(keys))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })
		for _, i := range order {
			w.field(names[i], v.MapIndex(keys[i]), depth)
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return
		}
		for i := 0; i < v.Len(); i++ {
			w.collect(v.Index(i), depth+1)
		}
	case reflect.Struct:
		if v.Type() == declarationType {
			return
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			if isDeclarationField(field) {
				w.out = appendDeclarations(w.out, v.Field(i))
			} else {
				w.collect(v.Field(i), depth+1)
			}
		}
	}
}

// field handles one map entry.
func (w *walker) field(name string, value reflect.Value, depth int) {
	if isDeclarationKey(name) {
		w.out = appendDeclarations(w.out, value)
		return
	}
	w.collect(value, depth+1)
}

func isDeclarationField(field reflect.StructField) bool {
	if isDeclarationKey(strings.ToLower(field.Name)) {
		return true
	}
	for _, key := range []string{"json", "yaml"} {
		name, _, _ := strings.Cut(field.Tag.Get(key), ",")
		if isDeclarationKey(name) {
			return true
		}
	}
	return false
}

func appendDeclarations(out []Declaration, v reflect.Value) []Declaration {
	v = indirect(v)
	if !v.IsValid() {
		return out
	}
	if v.Type() != mapSliceType && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) && v.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < v.Len(); i++ {
			if decl, ok := decodeDeclaration(v.Index(i)); ok {
				out = append(out, decl)
			}
		}
		return out
	}
	if decl, ok := decodeDeclaration(v); ok {
		out = append(out, decl)
	}
	return out
}

func decodeDeclaration(v reflect.Value) (Declaration, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return Declaration{}, false
	}
	if v.Type() == declarationType {
		return v.Interface().(Declaration), true
	}
	var raw any
	switch {
	case v.Type() == mapSliceType:
		items := v.Interface().(yaml.MapSlice)
		m := make(map[string]any, len(items))
		for _, item := range items {
			m[keyString(reflect.ValueOf(item.Key))] = item.Value
		}
		raw = m
	case v.Kind() == reflect.Map:
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[keyString(iter.Key())] = iter.Value().Interface()
		}
		raw = m
	case v.Kind() == reflect.Struct:
		raw = v.Interface()
	default:
		return Declaration{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Declaration{}, false
	}
	var decl Declaration
	if err := json.Unmarshal(b, &decl); err != nil {
		return Declaration{}, false
	}
	return decl, true
}

// indirect unwraps interfaces and pointers.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func keyString(k reflect.Value) string {
	k = indirect(k)
	if !k.IsValid() {
		return ""
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
