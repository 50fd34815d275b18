package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"relquery/internal/qerr"
)

// Request is one statement described with command flags.
type Request struct {
	Table    string
	Select   []string
	Where    []string
	Order    []string
	Set      []string
	Delete   bool
	Distinct bool
	Limit    int64
	Offset   int64
	Execute  bool
	Track    string
}

// DefineRequestFlags binds the statement flags on fs to r.
func DefineRequestFlags(fs *pflag.FlagSet, r *Request) {
	fs.StringVar(&r.Table, "table", "", "Root table")
	fs.StringSliceVar(&r.Select, "select", nil, "Columns to select; fk_name.column follows a foreign key")
	fs.StringArrayVar(&r.Where, "where", nil, "Condition column<op>value with op one of = != < <= > >= ~ (repeatable)")
	fs.StringSliceVar(&r.Order, "order", nil, "Ordering column[:desc]")
	fs.StringArrayVar(&r.Set, "set", nil, "Assignment column=value; turns the statement into an UPDATE (repeatable)")
	fs.BoolVar(&r.Delete, "delete", false, "Compose a DELETE instead of a SELECT")
	fs.BoolVar(&r.Distinct, "distinct", false, "SELECT DISTINCT")
	fs.Int64Var(&r.Limit, "limit", 0, "Row limit (0 = none)")
	fs.Int64Var(&r.Offset, "offset", 0, "Rows to skip")
	fs.BoolVar(&r.Execute, "execute", false, "Run the statement and print the result")
	fs.StringVar(&r.Track, "track", "", "Record the selected columns under this query id")
}

// ParseLine parses one line of statement flags. Words split on whitespace;
// single or double quotes group a word.
func ParseLine(line string) (Request, error) {
	words, err := splitWords(line)
	if err != nil {
		return Request{}, err
	}
	var r Request
	fs := pflag.NewFlagSet("line", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	DefineRequestFlags(fs, &r)
	if err := fs.Parse(words); err != nil {
		return Request{}, qerr.Wrap(qerr.ErrConfiguration, err, "parse %q", line)
	}
	if fs.NArg() > 0 {
		return Request{}, qerr.Configuration("unexpected argument %q", fs.Arg(0))
	}
	return r, nil
}

func splitWords(line string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
		quote rune
		inTok bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inTok = r, true
		case r == ' ' || r == '\t':
			if inTok {
				words = append(words, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, qerr.Configuration("unterminated %c quote", quote)
	}
	if inTok {
		words = append(words, cur.String())
	}
	return words, nil
}

// kind reports the statement a request composes.
func (r Request) kind() string {
	switch {
	case r.Delete:
		return "delete"
	case len(r.Set) > 0:
		return "update"
	default:
		return "select"
	}
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Table) == "" {
		return qerr.Configuration("--table is required")
	}
	if r.Delete && len(r.Set) > 0 {
		return qerr.Configuration("--delete and --set are mutually exclusive")
	}
	if r.kind() != "select" {
		if len(r.Where) == 0 {
			return qerr.State("%s without --where is refused", strings.ToUpper(r.kind()))
		}
		if len(r.Select) > 0 || len(r.Order) > 0 || r.Limit > 0 || r.Offset > 0 || r.Distinct {
			return qerr.Configuration("--select, --order, --limit, --offset and --distinct apply to SELECT only")
		}
	}
	if r.Limit < 0 || r.Offset < 0 {
		return qerr.Configuration("--limit and --offset cannot be negative")
	}
	return nil
}

// operators longest first so "<=" wins over "<".
var operators = []string{"!=", "<=", ">=", "=", "<", ">", "~"}

type condition struct {
	path  string
	op    string
	value string
	null  bool
}

func parseCondition(s string) (condition, error) {
	idx, op := -1, ""
	for i := 0; i < len(s) && idx < 0; i++ {
		for _, candidate := range operators {
			if strings.HasPrefix(s[i:], candidate) {
				idx, op = i, candidate
				break
			}
		}
	}
	if idx <= 0 {
		return condition{}, qerr.Configuration("condition %q must look like column<op>value", s)
	}
	c := condition{path: strings.TrimSpace(s[:idx]), op: op, value: s[idx+len(op):]}
	if strings.EqualFold(c.value, "null") {
		if op != "=" && op != "!=" {
			return condition{}, qerr.Configuration("NULL compares with = or != only in %q", s)
		}
		c.null = true
	}
	return c, nil
}

func parseAssignment(s string) (condition, error) {
	c, err := parseCondition(s)
	if err != nil {
		return condition{}, err
	}
	if c.op != "=" {
		return condition{}, qerr.Configuration("assignment %q must use =", s)
	}
	return c, nil
}

type ordering struct {
	path string
	desc bool
}

func parseOrdering(s string) (ordering, error) {
	path, dir, found := strings.Cut(s, ":")
	o := ordering{path: strings.TrimSpace(path)}
	if found {
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "asc":
		case "desc":
			o.desc = true
		default:
			return ordering{}, qerr.Configuration("ordering %q: direction must be asc or desc", s)
		}
	}
	if o.path == "" {
		return ordering{}, qerr.Configuration("empty ordering column")
	}
	return o, nil
}

// shape identifies a request up to the values of its conditions, so requests
// sharing a shape share one composed statement.
func (r Request) shape(conds []condition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|", r.kind(), r.Table, strings.Join(r.Select, ","))
	for _, c := range conds {
		b.WriteString(c.path)
		if c.null {
			b.WriteString(" is")
		}
		b.WriteString(c.op)
		b.WriteByte(';')
	}
	fmt.Fprintf(&b, "|%s|%t|%d|%d", strings.Join(r.Order, ","), r.Distinct, r.Limit, r.Offset)
	return b.String()
}
