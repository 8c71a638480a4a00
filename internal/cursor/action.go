package cursor

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"cursoragent/internal/db"
)

// ActionKind is the strategy used to run the per-row action.
type ActionKind int

const (
	// FullBlock is a complete DO block, executed as is. The row is not bound.
	FullBlock ActionKind = iota + 1
	// FunctionCall is text with a parenthesised argument list, run as
	// SELECT <text>.
	FunctionCall
	// RawStatement starts with INSERT, UPDATE, DELETE or SELECT and runs verbatim.
	RawStatement
	// BareFunctionName is called with no arguments.
	BareFunctionName
	// Callback is a Go function; it may run no SQL at all.
	Callback
)

func (k ActionKind) String() string {
	switch k {
	case FullBlock:
		return "full_block"
	case FunctionCall:
		return "function_call"
	case RawStatement:
		return "raw_statement"
	case BareFunctionName:
		return "bare_function_name"
	case Callback:
		return "callback"
	}
	return "unknown"
}

// RowFunc is the native per-row action. A returned error or a panic becomes
// the row's error.
type RowFunc func(ctx context.Context, row db.Row) error

// Action is a classified per-row action. It is built once per processor and
// rendered once per run.
type Action struct {
	Kind ActionKind
	Text string

	tmpl   *template.Template
	params int
	fn     RowFunc
}

// templateData is what an action template can reference.
type templateData struct {
	// Cursor is the quoted cursor name, usable in WHERE CURRENT OF.
	Cursor string
	// CursorName is the unquoted name.
	CursorName string
}

var (
	dmlPrefixes = []string{"INSERT", "UPDATE", "DELETE", "SELECT"}
	paramRE     = regexp.MustCompile(`\$([1-9][0-9]*)`)
)

// ParseAction classifies text. Statements that start with a DML keyword are
// never wrapped, even when they contain parentheses. text is a text/template
// with sprig functions; it is parsed here and executed per run.
func ParseAction(text string) (Action, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Action{}, fmt.Errorf("action is empty")
	}
	tmpl, err := template.New("action").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(trimmed)
	if err != nil {
		return Action{}, fmt.Errorf("parse action template: %w", err)
	}

	a := Action{Kind: classify(trimmed), Text: trimmed, tmpl: tmpl}
	if a.Kind == FunctionCall || a.Kind == RawStatement {
		a.params = maxParam(trimmed)
	}
	return a, nil
}

// CallbackAction wraps fn as an Action.
func CallbackAction(fn RowFunc) Action {
	return Action{Kind: Callback, Text: "callback", fn: fn}
}

func classify(s string) ActionKind {
	upper := strings.ToUpper(s)
	if startsWithWord(upper, "DO") {
		return FullBlock
	}
	for _, kw := range dmlPrefixes {
		if startsWithWord(upper, kw) {
			return RawStatement
		}
	}
	if strings.Contains(s, "(") && strings.Contains(s, ")") {
		return FunctionCall
	}
	return BareFunctionName
}

// startsWithWord reports whether s starts with kw followed by whitespace or
// a dollar quote.
func startsWithWord(s, kw string) bool {
	if !strings.HasPrefix(s, kw) || len(s) == len(kw) {
		return false
	}
	switch s[len(kw)] {
	case ' ', '\t', '\n', '\r', '$':
		return true
	}
	return false
}

func maxParam(s string) int {
	n := 0
	for _, m := range paramRE.FindAllStringSubmatch(s, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v > n {
			n = v
		}
	}
	return n
}

// Statement renders the SQL executed for each row of a run on cursorName.
func (a Action) Statement(cursorName string) (string, error) {
	return a.statement(cursorName, "SELECT ")
}

// BlockStatement renders the action for the body of a PL/pgSQL loop, where
// function calls must discard their result with PERFORM.
func (a Action) BlockStatement(cursorName string) (string, error) {
	return a.statement(cursorName, "PERFORM ")
}

func (a Action) statement(cursorName, call string) (string, error) {
	if a.Kind == Callback {
		return "", nil
	}
	var buf bytes.Buffer
	data := templateData{Cursor: db.QuoteName(cursorName), CursorName: cursorName}
	if err := a.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render action: %w", err)
	}
	text := strings.TrimSpace(buf.String())

	switch a.Kind {
	case FunctionCall:
		return call + text, nil
	case BareFunctionName:
		return call + db.QuoteIdent(text) + "()", nil
	default:
		return text, nil
	}
}

// Args returns the positional arguments bound for row: the first n column
// values when the statement references $1..$n, else none.
func (a Action) Args(row db.Row) ([]any, error) {
	if a.params == 0 {
		return nil, nil
	}
	if a.params > len(row.Values) {
		return nil, fmt.Errorf("action references $%d but the row has %d columns", a.params, len(row.Values))
	}
	return row.Values[:a.params], nil
}
