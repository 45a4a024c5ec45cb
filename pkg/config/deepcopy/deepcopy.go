// Package deepcopy makes deep copies of recipe values. A standard copy shares slices and maps
// between the copies, deep copy duplicates them. Unexported field values are not copied.
//
// Derived from github.com/mohae/deepcopy, Copyright (c)2014-2016, Joel Scoble, MIT license.
package deepcopy

import (
	"reflect"
)

// Of returns a deep copy of v with the same static type.
func Of[T any](v T) T {
	original := reflect.ValueOf(&v).Elem()
	cpy := reflect.New(original.Type()).Elem()
	copyRecursive(original, cpy)
	res, ok := cpy.Interface().(T)
	if !ok {
		return v // unreachable, types match by construction
	}
	return res
}

func copyRecursive(original, cpy reflect.Value) {
	switch original.Kind() {
	case reflect.Ptr:
		if original.IsNil() {
			return
		}
		cpy.Set(reflect.New(original.Elem().Type()))
		copyRecursive(original.Elem(), cpy.Elem())

	case reflect.Interface:
		if original.IsNil() {
			return
		}
		copyValue := reflect.New(original.Elem().Type()).Elem()
		copyRecursive(original.Elem(), copyValue)
		cpy.Set(copyValue)

	case reflect.Struct:
		for i := 0; i < original.NumField(); i++ {
			if !original.Type().Field(i).IsExported() {
				continue
			}
			copyRecursive(original.Field(i), cpy.Field(i))
		}

	case reflect.Slice:
		if original.IsNil() {
			return
		}
		cpy.Set(reflect.MakeSlice(original.Type(), original.Len(), original.Len()))
		for i := 0; i < original.Len(); i++ {
			copyRecursive(original.Index(i), cpy.Index(i))
		}

	case reflect.Map:
		if original.IsNil() {
			return
		}
		cpy.Set(reflect.MakeMapWithSize(original.Type(), original.Len()))
		iter := original.MapRange()
		for iter.Next() {
			copyValue := reflect.New(iter.Value().Type()).Elem()
			copyRecursive(iter.Value(), copyValue)
			cpy.SetMapIndex(iter.Key(), copyValue)
		}

	default:
		cpy.Set(original)
	}
}
