package selector

import (
	"slices"
	"time"

	"relquery/internal/catalog"
)

// command is one reversible change to the repository state. Commands are
// immutable once built; each carries what it needs to undo itself.
type command interface {
	apply(state map[string]Usage)
	revert(state map[string]Usage)
	touched() []string
}

type addID struct {
	id    string
	table catalog.TablePath
	at    time.Time
}

func (c addID) apply(s map[string]Usage)  { s[c.id] = Usage{Table: c.table, Updated: c.at} }
func (c addID) revert(s map[string]Usage) { delete(s, c.id) }
func (c addID) touched() []string         { return []string{c.id} }

type removeID struct {
	id   string
	prev Usage
}

func (c removeID) apply(s map[string]Usage)  { delete(s, c.id) }
func (c removeID) revert(s map[string]Usage) { s[c.id] = c.prev.clone() }
func (c removeID) touched() []string         { return []string{c.id} }

type addColumn struct {
	id     string
	column string
	prevAt time.Time
	at     time.Time
}

func (c addColumn) apply(s map[string]Usage) {
	u := s[c.id].clone()
	u.Columns = append(u.Columns, c.column)
	u.Updated = c.at
	s[c.id] = u
}

func (c addColumn) revert(s map[string]Usage) {
	u := s[c.id].clone()
	u.Columns = u.Columns[:len(u.Columns)-1]
	u.Updated = c.prevAt
	s[c.id] = u
}

func (c addColumn) touched() []string { return []string{c.id} }

type removeColumn struct {
	id     string
	column string
	index  int
	prevAt time.Time
	at     time.Time
}

func (c removeColumn) apply(s map[string]Usage) {
	u := s[c.id].clone()
	u.Columns = slices.Delete(u.Columns, c.index, c.index+1)
	u.Updated = c.at
	s[c.id] = u
}

func (c removeColumn) revert(s map[string]Usage) {
	u := s[c.id].clone()
	u.Columns = slices.Insert(u.Columns, c.index, c.column)
	u.Updated = c.prevAt
	s[c.id] = u
}

func (c removeColumn) touched() []string { return []string{c.id} }

// retarget moves an id to another table; its columns do not carry over.
type retarget struct {
	id   string
	prev Usage
	next catalog.TablePath
	at   time.Time
}

func (c retarget) apply(s map[string]Usage)  { s[c.id] = Usage{Table: c.next, Updated: c.at} }
func (c retarget) revert(s map[string]Usage) { s[c.id] = c.prev.clone() }
func (c retarget) touched() []string         { return []string{c.id} }

type rename struct {
	from, to string
}

func (c rename) apply(s map[string]Usage) {
	s[c.to] = s[c.from]
	delete(s, c.from)
}

func (c rename) revert(s map[string]Usage) {
	s[c.from] = s[c.to]
	delete(s, c.to)
}

func (c rename) touched() []string { return []string{c.from, c.to} }

type clearColumns struct {
	id   string
	prev Usage
	at   time.Time
}

func (c clearColumns) apply(s map[string]Usage) {
	s[c.id] = Usage{Table: c.prev.Table, Updated: c.at}
}

func (c clearColumns) revert(s map[string]Usage) { s[c.id] = c.prev.clone() }
func (c clearColumns) touched() []string         { return []string{c.id} }
