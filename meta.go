package arbor

import (
	"reflect"
)

// MetaGet reads a typed metadata value off a unit, converting the stored
// value to T via reflection when a direct assertion fails (e.g. an int
// literal stored against a float64-typed reader).
func MetaGet[T any](u Unit, key string) (T, bool) {
	var zero T
	m := u.Meta()
	if m == nil {
		return zero, false
	}
	value, ok := m[key]
	if !ok {
		return zero, false
	}
	if typed, ok := value.(T); ok {
		return typed, true
	}
	sourceValue := reflect.ValueOf(value)
	targetType := reflect.TypeOf((*T)(nil)).Elem()
	if sourceValue.IsValid() && sourceValue.Type().ConvertibleTo(targetType) {
		return sourceValue.Convert(targetType).Interface().(T), true
	}
	return zero, false
}

// MetaGetOrDefault is MetaGet with a fallback for the not-found case.
func MetaGetOrDefault[T any](u Unit, key string, def T) T {
	if v, ok := MetaGet[T](u, key); ok {
		return v
	}
	return def
}

func metaString(u Unit, key string) string {
	return MetaGetOrDefault(u, key, "")
}
