package jsonsafe

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"nifty-etl/internal/ohlcv"
)

// Valuer is implemented by types that know their own JSON-safe form.
type Valuer interface {
	JSONSafe() Value
}

// Sanitize converts v into a JSON-safe tree. It never fails: values it does not
// recognise are rendered with fmt.Sprint.
func Sanitize(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case *Object:
		return ObjectValue(x)
	case Valuer:
		return x.JSONSafe()
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case time.Time:
		return String(x.Format(time.RFC3339Nano))
	case time.Duration:
		return String(x.String())
	case *ohlcv.Table:
		return tableRows(x)
	case decimal.Decimal:
		return Float(x.InexactFloat64())
	case decimal.NullDecimal:
		if !x.Valid {
			return Null()
		}
		return Float(x.Decimal.InexactFloat64())
	case []byte:
		return String(string(x))
	case error:
		return String(x.Error())
	case driver.Valuer:
		// null.* and sql.Null* wrappers report missing cells as a nil driver value.
		dv, err := x.Value()
		if err != nil {
			return String(fmt.Sprint(v))
		}
		return Sanitize(dv)
	}
	return sanitizeReflect(reflect.ValueOf(v))
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

func sanitizeReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return Sanitize(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return Array()
		}
		fallthrough
	case reflect.Array:
		out := make([]Value, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return Array(out...)
	case reflect.Map:
		return sanitizeMap(rv)
	}

	if s, ok := rv.Interface().(fmt.Stringer); ok {
		return String(s.String())
	}

	switch rv.Kind() {
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	}
	return String(fmt.Sprint(rv.Interface()))
}

func sanitizeMap(rv reflect.Value) Value {
	type entry struct {
		key string
		val Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{
			key: KeyString(Sanitize(iter.Key().Interface())),
			val: Sanitize(iter.Value().Interface()),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	obj := NewObject()
	for _, e := range entries {
		obj.Set(e.key, e.val)
	}
	return ObjectValue(obj)
}

// KeyString renders a sanitized value as an object key.
func KeyString(v Value) string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.isInt {
			return strconv.FormatInt(v.i, 10)
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		raw, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(raw)
	}
}

func tableRows(t *ohlcv.Table) Value {
	if t == nil {
		return Null()
	}
	cols := t.Columns()
	rows := make([]Value, 0, t.Len())
	for _, b := range t.Bars {
		row := NewObject()
		row.Set("Date", Sanitize(b.Date))
		for _, c := range cols {
			row.Set(string(c), Sanitize(b.Get(c)))
		}
		rows = append(rows, ObjectValue(row))
	}
	return Array(rows...)
}
