package binder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relquery/internal/sqltype"
)

// Placeholder commits to a kind but defers its value. Bound into a Recorder,
// it records the ordinal it landed on and writes a dummy value of its kind.
// A placeholder bound into any other statement writes the dummy value only.
type Placeholder struct {
	kind sqltype.Kind
	name string
}

// NewPlaceholder returns a deferred value of kind. name is used in messages only.
func NewPlaceholder(kind sqltype.Kind, name string) *Placeholder {
	return &Placeholder{kind: kind, name: name}
}

func (p *Placeholder) Kind() sqltype.Kind { return p.kind }
func (p *Placeholder) Value() any         { return Dummy(p.kind) }
func (p *Placeholder) Name() string       { return p.name }

func (p *Placeholder) String() string {
	if p.name == "" {
		return fmt.Sprintf("placeholder(%s)", p.kind)
	}
	return fmt.Sprintf("placeholder(%s %s)", p.name, p.kind)
}

func (p *Placeholder) Bind(st Statement, ordinal int) error {
	if r, ok := st.(*Recorder); ok {
		r.record(p, ordinal)
	}
	return st.SetArg(ordinal, driverValue(p.kind, Dummy(p.kind)))
}

// Dummy returns the stand-in value written for a placeholder of kind.
func Dummy(kind sqltype.Kind) any {
	switch kind {
	case sqltype.KindInt:
		return int64(0)
	case sqltype.KindFloat:
		return float64(0)
	case sqltype.KindBool:
		return false
	case sqltype.KindBytes:
		return []byte{}
	case sqltype.KindTime:
		return time.Unix(0, 0).UTC()
	case sqltype.KindUUID:
		return uuid.Nil
	case sqltype.KindJSON:
		return json.RawMessage("null")
	default:
		return ""
	}
}

// Slot is one recorded placeholder: the ordinals it was bound at, first one first.
type Slot struct {
	Placeholder *Placeholder
	Ordinals    []int
}

// Recorder is a Statement used for a recording pass. It collects every
// argument like an ArgList and remembers where placeholders landed.
// A Recorder belongs to one pass and is not safe for concurrent use.
type Recorder struct {
	ArgList
	slots []Slot
	index map[*Placeholder]int
}

// NewRecorder returns an empty recording statement.
func NewRecorder() *Recorder {
	return &Recorder{index: make(map[*Placeholder]int)}
}

func (r *Recorder) record(p *Placeholder, ordinal int) {
	if i, ok := r.index[p]; ok {
		r.slots[i].Ordinals = append(r.slots[i].Ordinals, ordinal)
		return
	}
	r.index[p] = len(r.slots)
	r.slots = append(r.slots, Slot{Placeholder: p, Ordinals: []int{ordinal}})
}

// Slots returns the recorded placeholders in first-bound order.
func (r *Recorder) Slots() []Slot { return r.slots }
