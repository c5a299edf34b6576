package validator

import (
	"fmt"
	"reflect"
)

// Validate returns an error naming component when any of deps is nil or the
// zero value of its type.
func Validate(component string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required dep %d for component: %s", i, component)
		}
	}

	return nil
}

func missing(dep any) bool {
	if dep == nil {
		return true
	}

	v := reflect.ValueOf(dep)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}
