package store

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
)

// EvalOperator is the query key holding an expression evaluated against
// the whole document, e.g. {"$eval": "cylinders >= 6"}.
const EvalOperator = "$eval"

var programs sync.Map // expression source -> *vm.Program

// Match reports whether doc satisfies query.
//
// Every top-level key of query must hold for the document. A key maps
// either to a literal, compared with EqualValues, or to an operator map:
//
//	{"$in": [...]}     field value equals one of the listed values
//	{"$ne": v}         field value differs from v
//	{"$exists": bool}  field is (not) present
//
// The special key "$eval" holds an expr-lang boolean expression that sees
// the document fields as variables.
func Match(doc Document, query Query) (bool, error) {
	for field, cond := range query {
		if field == EvalOperator {
			src, ok := cond.(string)
			if !ok {
				return false, errors.NotValidf("%s expression of type %T", EvalOperator, cond)
			}
			ok, err := evaluate(src, doc)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		value, present := doc[field]
		ok, err := matchField(value, present, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchField(value any, present bool, cond any) (bool, error) {
	ops, isOps := operators(cond)
	if !isOps {
		return present && EqualValues(value, cond), nil
	}
	for op, arg := range ops {
		switch op {
		case "$in":
			list, ok := asSlice(arg)
			if !ok {
				return false, errors.NotValidf("$in argument of type %T", arg)
			}
			found := false
			for _, candidate := range list {
				if present && EqualValues(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$ne":
			if present && EqualValues(value, arg) {
				return false, nil
			}
		case "$exists":
			want, ok := arg.(bool)
			if !ok {
				return false, errors.NotValidf("$exists argument of type %T", arg)
			}
			if want != present {
				return false, nil
			}
		default:
			return false, errors.NotSupportedf("query operator %q", op)
		}
	}
	return true, nil
}

// operators returns cond as an operator map when all of its keys start
// with '$'.
func operators(cond any) (map[string]any, bool) {
	var m map[string]any
	switch c := cond.(type) {
	case map[string]any:
		m = c
	case Query:
		m = c
	case Document:
		m = c
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func evaluate(src string, doc Document) (bool, error) {
	var program *vm.Program
	if cached, ok := programs.Load(src); ok {
		program = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return false, errors.Annotatef(err, "compiling %s expression", EvalOperator)
		}
		programs.Store(src, compiled)
		program = compiled
	}
	out, err := expr.Run(program, map[string]any(doc))
	if err != nil {
		return false, errors.Annotatef(err, "evaluating %s expression", EvalOperator)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// EqualValues compares two document values, treating all numeric types as
// float64 so that values survive a JSON round trip unchanged.
func EqualValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if la, ok := asSlice(a); ok {
		lb, ok := asSlice(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !EqualValues(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !EqualValues(va, vb) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case Query:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
