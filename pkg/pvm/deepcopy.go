package pvm

import "reflect"

// DeepCopyMap copies variables by value, descending into maps and slices.
func DeepCopyMap(values map[string]any) map[string]any {
	if values == nil {
		return make(map[string]any)
	}

	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = DeepCopy(value)
	}

	return copied
}

// DeepCopy copies value by value. Pointers and structs are copied shallowly.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return DeepCopyMap(v)
	case []any:
		copied := make([]any, len(v))
		for i, item := range v {
			copied[i] = DeepCopy(item)
		}

		return copied
	case []byte:
		return append([]byte(nil), v...)
	}

	return deepCopyReflect(reflect.ValueOf(value)).Interface()
}

func deepCopyReflect(value reflect.Value) reflect.Value {
	switch value.Kind() {
	case reflect.Map:
		if value.IsNil() {
			return value
		}

		copied := reflect.MakeMapWithSize(value.Type(), value.Len())

		iter := value.MapRange()
		for iter.Next() {
			copied.SetMapIndex(iter.Key(), deepCopyValue(iter.Value(), value.Type().Elem()))
		}

		return copied
	case reflect.Slice:
		if value.IsNil() {
			return value
		}

		copied := reflect.MakeSlice(value.Type(), value.Len(), value.Len())
		for i := range value.Len() {
			copied.Index(i).Set(deepCopyValue(value.Index(i), value.Type().Elem()))
		}

		return copied
	default:
		return value
	}
}

func deepCopyValue(value reflect.Value, elem reflect.Type) reflect.Value {
	if elem.Kind() == reflect.Interface {
		if value.IsNil() {
			return reflect.Zero(elem)
		}

		return reflect.ValueOf(DeepCopy(value.Interface()))
	}

	return deepCopyReflect(value)
}
