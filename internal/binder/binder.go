// Package binder holds typed bind values and writes them into statements.
package binder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relquery/internal/qerr"
	"relquery/internal/sqltype"
)

// Statement receives bind values by 1-based ordinal.
type Statement interface {
	SetArg(ordinal int, value any) error
}

// Binder is one typed bind value.
type Binder interface {
	// Kind is the value category the binder commits to.
	Kind() sqltype.Kind
	// Value is the domain value held, nil for NULL.
	Value() any
	// Bind writes the driver form of the value at ordinal.
	Bind(st Statement, ordinal int) error
}

type value struct {
	kind sqltype.Kind
	v    any
}

func (b value) Kind() sqltype.Kind { return b.kind }
func (b value) Value() any         { return b.v }

func (b value) Bind(st Statement, ordinal int) error {
	return st.SetArg(ordinal, driverValue(b.kind, b.v))
}

func (b value) String() string { return fmt.Sprintf("%s(%v)", b.kind, b.v) }

// String binds a string.
func String(s string) Binder { return value{kind: sqltype.KindString, v: s} }

// Int binds a 64-bit integer.
func Int(i int64) Binder { return value{kind: sqltype.KindInt, v: i} }

// Float binds a float64.
func Float(f float64) Binder { return value{kind: sqltype.KindFloat, v: f} }

// Bool binds a boolean.
func Bool(b bool) Binder { return value{kind: sqltype.KindBool, v: b} }

// Bytes binds a byte slice.
func Bytes(b []byte) Binder { return value{kind: sqltype.KindBytes, v: b} }

// Time binds a timestamp.
func Time(t time.Time) Binder { return value{kind: sqltype.KindTime, v: t} }

// UUID binds a UUID in its canonical string form.
func UUID(u uuid.UUID) Binder { return value{kind: sqltype.KindUUID, v: u} }

// JSON binds a JSON document.
func JSON(raw json.RawMessage) Binder { return value{kind: sqltype.KindJSON, v: raw} }

// Null binds SQL NULL for a column of the given kind.
func Null(kind sqltype.Kind) Binder { return value{kind: kind} }

// IsNull reports whether b carries NULL.
func IsNull(b Binder) bool { return b.Value() == nil }

func driverValue(kind sqltype.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch kind {
	case sqltype.KindUUID:
		if u, ok := v.(uuid.UUID); ok {
			return u.String()
		}
	case sqltype.KindJSON:
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw)
		}
	}
	return v
}

// BindAll binds binders at consecutive ordinals starting at start and
// returns the next free ordinal.
func BindAll(st Statement, start int, binders []Binder) (int, error) {
	if start < 1 {
		return start, qerr.State("bind ordinals start at 1, got %d", start)
	}
	for i, b := range binders {
		if err := b.Bind(st, start+i); err != nil {
			return start + i, fmt.Errorf("bind ordinal %d: %w", start+i, err)
		}
	}
	return start + len(binders), nil
}

// Values returns the domain values of binders.
func Values(binders []Binder) []any {
	out := make([]any, len(binders))
	for i, b := range binders {
		out[i] = b.Value()
	}
	return out
}

// ArgList is a Statement that collects driver arguments for database/sql.
type ArgList struct {
	args []any
}

// SetArg stores v at ordinal, growing the list as needed.
func (l *ArgList) SetArg(ordinal int, v any) error {
	if ordinal < 1 {
		return qerr.State("bind ordinal %d out of range", ordinal)
	}
	for len(l.args) < ordinal {
		l.args = append(l.args, nil)
	}
	l.args[ordinal-1] = v
	return nil
}

// Args returns the collected arguments in ordinal order.
func (l *ArgList) Args() []any { return l.args }

// Args binds binders into a fresh ArgList.
func Args(binders []Binder) ([]any, error) {
	var list ArgList
	if _, err := BindAll(&list, 1, binders); err != nil {
		return nil, err
	}
	if list.args == nil {
		return []any{}, nil
	}
	return list.args, nil
}
