package expression

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

func toValue(raw any) (cty.Value, error) {
	switch v := raw.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return v, nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int32:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case float32:
		return cty.NumberFloatVal(float64(v)), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case json.Number:
		return cty.ParseNumberVal(v.String())
	case time.Time:
		return cty.StringVal(v.UTC().Format(time.RFC3339Nano)), nil
	case []string:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}

		return toValue(items)
	case []any:
		if len(v) == 0 {
			return cty.EmptyTupleVal, nil
		}

		items := make([]cty.Value, len(v))
		for i, item := range v {
			value, err := toValue(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}

			items[i] = value
		}

		return cty.TupleVal(items), nil
	case map[string]any:
		if len(v) == 0 {
			return cty.EmptyObjectVal, nil
		}

		attributes := make(map[string]cty.Value, len(v))
		for key, item := range v {
			value, err := toValue(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %s: %w", key, err)
			}

			attributes[key] = value
		}

		return cty.ObjectVal(attributes), nil
	default:
		return fromJSON(raw)
	}
}

// fromJSON converts structs and other typed values through their JSON form.
func fromJSON(raw any) (cty.Value, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported value of type %T: %w", raw, err)
	}

	implied, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported value of type %T: %w", raw, err)
	}

	return ctyjson.Unmarshal(data, implied)
}

func fromValue(value cty.Value) (any, error) {
	if value.IsNull() {
		return nil, nil
	}

	if !value.IsKnown() {
		return nil, fmt.Errorf("value is unknown")
	}

	value, _ = value.Unmark()
	ty := value.Type()

	switch {
	case ty == cty.String:
		return value.AsString(), nil
	case ty == cty.Bool:
		return value.True(), nil
	case ty == cty.Number:
		return fromNumber(value.AsBigFloat()), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		items := make([]any, 0, value.LengthInt())

		for it := value.ElementIterator(); it.Next(); {
			_, element := it.Element()

			item, err := fromValue(element)
			if err != nil {
				return nil, err
			}

			items = append(items, item)
		}

		return items, nil
	case ty.IsMapType() || ty.IsObjectType():
		attributes := make(map[string]any, value.LengthInt())

		for it := value.ElementIterator(); it.Next(); {
			key, element := it.Element()

			item, err := fromValue(element)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", key.AsString(), err)
			}

			attributes[key.AsString()] = item
		}

		return attributes, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
	}
}

// fromNumber keeps whole numbers as int so they compare equal to the ints callers stored.
func fromNumber(number *big.Float) any {
	if number.IsInt() {
		if i, accuracy := number.Int64(); accuracy == big.Exact {
			return int(i)
		}
	}

	f, _ := number.Float64()

	return f
}

