package expression

import (
	"fmt"
	"reflect"
	"strings"
)

// "contains" is an expr operator, so membership is exposed as has/includes.
var functions = map[string]func(args ...any) (any, error){
	"has":      hasFunc,
	"includes": hasFunc,
	"length":   lengthFunc,
	"isEmpty":  isEmptyFunc,
}

func hasFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires exactly 2 arguments, got %d", len(args))
	}
	collection, target := args[0], args[1]
	if collection == nil {
		return false, nil
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		key := reflect.ValueOf(target)
		if !key.IsValid() || !key.Type().AssignableTo(v.Type().Key()) {
			return false, nil
		}
		return v.MapIndex(key).IsValid(), nil
	case reflect.String:
		sub, ok := target.(string)
		return ok && sub != "" && strings.Contains(v.String(), sub), nil
	default:
		return false, nil
	}
}

func lengthFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length requires exactly 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0, nil
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), nil
	default:
		return nil, fmt.Errorf("length: unsupported type %T", args[0])
	}
}

func isEmptyFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("isEmpty requires exactly 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return true, nil
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len() == 0, nil
	default:
		return false, nil
	}
}
