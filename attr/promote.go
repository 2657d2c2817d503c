package attr

import (
	"strconv"
	"time"

	"github.com/spf13/cast"

	"github.com/cascadegis/geoconv/feature"
)

// Accepted temporal spellings, tried in order
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// promoteField inspects every non-null value of the field and, when they all
// agree on a narrower type than declared, rewrites the values and returns
// the promoted type. Text promotes to integer, float, or time; mixed
// integer/float widens to float. Fields with no non-null values keep their
// declared type.
func promoteField(f *feature.Field, features []*feature.Feature) (feature.FieldType, bool) {
	values := make([]any, 0, len(features))
	for _, feat := range features {
		if v := feat.Attrs[f.Name]; v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return f.Type, false
	}

	target, ok := commonType(values)
	if !ok || target == f.Type {
		return f.Type, false
	}

	for _, feat := range features {
		v := feat.Attrs[f.Name]
		if v == nil {
			continue
		}
		feat.Attrs[f.Name] = convertValue(v, target)
	}
	return target, true
}

// commonType finds the narrowest type every value fits
func commonType(values []any) (feature.FieldType, bool) {
	allInt, allFloat, allTime, allBool := true, true, true, true
	for _, v := range values {
		switch val := v.(type) {
		case int64:
			allTime, allBool = false, false
		case float64:
			allInt = isWholeNumber(val) && allInt
			allTime, allBool = false, false
		case bool:
			allInt, allFloat, allTime = false, false, false
		case time.Time:
			allInt, allFloat, allBool = false, false, false
		case string:
			if _, err := strconv.ParseInt(val, 10, 64); err != nil {
				allInt = false
			}
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				allFloat = false
			}
			if _, ok := parseTime(val); !ok {
				allTime = false
			}
			allBool = false
		default:
			return "", false
		}
		if !allInt && !allFloat && !allTime && !allBool {
			return feature.TypeString, true
		}
	}

	switch {
	case allBool:
		return feature.TypeBool, true
	case allInt:
		return feature.TypeInteger, true
	case allFloat:
		return feature.TypeFloat, true
	case allTime:
		return feature.TypeTime, true
	default:
		return feature.TypeString, true
	}
}

func convertValue(v any, target feature.FieldType) any {
	switch target {
	case feature.TypeInteger:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case feature.TypeFloat:
		if fv, err := cast.ToFloat64E(v); err == nil {
			return fv
		}
	case feature.TypeBool:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case feature.TypeTime:
		if s, ok := v.(string); ok {
			if t, parsed := parseTime(s); parsed {
				return t
			}
		}
		if t, ok := v.(time.Time); ok {
			return t
		}
	case feature.TypeString:
		return cast.ToString(v)
	}
	return v
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isWholeNumber(f float64) bool {
	return f == float64(int64(f))
}
