package binder

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"relquery/internal/qerr"
	"relquery/internal/sqltype"
)

// Encoder turns a Go value of a registered type into a Binder.
type Encoder func(v any) (Binder, error)

// Registry maps Go types to binder strategies and decodes driver values back
// into domain values. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	encoders map[reflect.Type]Encoder
}

// NewRegistry returns a registry with the built-in kinds.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[reflect.Type]Encoder)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used when no other is supplied.
func Default() *Registry { return defaultRegistry }

// Register installs enc for values whose dynamic type equals the type of sample.
func (r *Registry) Register(sample any, enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[reflect.TypeOf(sample)] = enc
}

// Of returns a binder for v, inferring the kind from its type.
func (r *Registry) Of(v any) (Binder, error) {
	if v == nil {
		return nil, qerr.State("cannot infer a bind kind for untyped nil")
	}
	if b, ok := v.(Binder); ok {
		return b, nil
	}
	r.mu.RLock()
	enc, ok := r.encoders[reflect.TypeOf(v)]
	r.mu.RUnlock()
	if ok {
		return enc(v)
	}

	switch x := v.(type) {
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return r.Coerce(sqltype.KindInt, v)
	case float32, float64:
		return r.Coerce(sqltype.KindFloat, v)
	case []byte:
		return Bytes(x), nil
	case time.Time:
		return Time(x), nil
	case uuid.UUID:
		return UUID(x), nil
	case json.RawMessage:
		return JSON(x), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil, err
		}
		if dv == nil {
			return Null(kindOfValuer(x)), nil
		}
		return r.Of(dv)
	}

	if kind, ok := reflectKind(v); ok {
		return r.Coerce(kind, v)
	}
	return nil, qerr.Unsupported("no binder for %T", v)
}

// Coerce returns a binder of kind for v. nil becomes Null(kind). A value that
// cannot represent kind is a State error.
func (r *Registry) Coerce(kind sqltype.Kind, v any) (Binder, error) {
	if v == nil {
		return Null(kind), nil
	}
	if b, ok := v.(Binder); ok {
		if b.Kind() != kind {
			return nil, qerr.State("binder of kind %s given where %s is expected", b.Kind(), kind)
		}
		return b, nil
	}
	if vv, ok := v.(driver.Valuer); ok {
		if _, isUUID := v.(uuid.UUID); !isUUID {
			dv, err := vv.Value()
			if err != nil {
				return nil, err
			}
			return r.Coerce(kind, dv)
		}
	}

	switch kind {
	case sqltype.KindString:
		if s, ok := asString(v); ok {
			return String(s), nil
		}
	case sqltype.KindInt:
		if i, ok := asInt(v); ok {
			return Int(i), nil
		}
	case sqltype.KindFloat:
		if f, ok := asFloat(v); ok {
			return Float(f), nil
		}
	case sqltype.KindBool:
		if b, ok := v.(bool); ok {
			return Bool(b), nil
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Bool {
			return Bool(rv.Bool()), nil
		}
	case sqltype.KindBytes:
		if b, ok := v.([]byte); ok {
			return Bytes(b), nil
		}
	case sqltype.KindTime:
		if t, ok := v.(time.Time); ok {
			return Time(t), nil
		}
	case sqltype.KindUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return UUID(x), nil
		case string:
			if u, err := uuid.Parse(x); err == nil {
				return UUID(u), nil
			}
		}
	case sqltype.KindJSON:
		switch x := v.(type) {
		case json.RawMessage:
			return JSON(x), nil
		case []byte:
			return JSON(json.RawMessage(x)), nil
		case string:
			return JSON(json.RawMessage(x)), nil
		}
	}
	return nil, qerr.State("%T value cannot bind as %s", v, kind)
}

// Decode converts a raw driver value read from a row into the domain value
// for kind. NULL decodes to nil.
func (r *Registry) Decode(kind sqltype.Kind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok && kind != sqltype.KindBytes && kind != sqltype.KindUUID {
		raw = string(b)
	}
	switch kind {
	case sqltype.KindString:
		if s, ok := asString(raw); ok {
			return s, nil
		}
		if t, ok := raw.(time.Time); ok {
			return t.Format(time.RFC3339), nil
		}
		if i, ok := asInt(raw); ok {
			return strconv.FormatInt(i, 10), nil
		}
	case sqltype.KindInt:
		if s, ok := raw.(string); ok {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, qerr.Wrap(qerr.ErrState, err, "decode %q as int", s)
			}
			return i, nil
		}
		if i, ok := asInt(raw); ok {
			return i, nil
		}
	case sqltype.KindFloat:
		if s, ok := raw.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, qerr.Wrap(qerr.ErrState, err, "decode %q as float", s)
			}
			return f, nil
		}
		if f, ok := asFloat(raw); ok {
			return f, nil
		}
	case sqltype.KindBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, qerr.Wrap(qerr.ErrState, err, "decode %q as bool", x)
			}
			return b, nil
		}
	case sqltype.KindBytes:
		switch x := raw.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	case sqltype.KindTime:
		switch x := raw.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x)
		}
	case sqltype.KindUUID:
		switch x := raw.(type) {
		case []byte:
			if len(x) == 16 {
				u, err := uuid.FromBytes(x)
				if err != nil {
					return nil, qerr.Wrap(qerr.ErrState, err, "decode uuid bytes")
				}
				return u, nil
			}
			return parseUUID(string(x))
		case string:
			return parseUUID(x)
		}
	case sqltype.KindJSON:
		if s, ok := raw.(string); ok {
			return json.RawMessage(s), nil
		}
	}
	return nil, qerr.State("cannot decode %T as %s", raw, kind)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, qerr.State("decode %q as time", s)
}

func parseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, qerr.Wrap(qerr.ErrState, err, "decode %q as uuid", s)
	}
	return u, nil
}

func asString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return uintToInt(uint64(x))
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return uintToInt(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintToInt(rv.Uint())
	}
	return 0, false
}

func uintToInt(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
		return rv.Float(), true
	}
	return 0, false
}

func reflectKind(v any) (sqltype.Kind, bool) {
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return sqltype.KindString, true
	case reflect.Bool:
		return sqltype.KindBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sqltype.KindInt, true
	case reflect.Float32, reflect.Float64:
		return sqltype.KindFloat, true
	}
	return 0, false
}

// kindOfValuer guesses the kind of a NULL sql.Null* value from its type name.
func kindOfValuer(v driver.Valuer) sqltype.Kind {
	switch reflect.TypeOf(v).Name() {
	case "NullInt64", "NullInt32", "NullInt16", "NullByte":
		return sqltype.KindInt
	case "NullFloat64":
		return sqltype.KindFloat
	case "NullBool":
		return sqltype.KindBool
	case "NullTime":
		return sqltype.KindTime
	}
	return sqltype.KindString
}
