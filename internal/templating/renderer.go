package templating

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

// Filter is a function callable from expressions, directly or through a pipe:
// `${{ parameters.name | upper() }}`.
type Filter func(args ...any) (any, error)

type Options struct {
	// Filters are additional functions made available to expressions.
	Filters map[string]Filter
	// Globals are additional values or functions made available to
	// expressions. Data passed at render time shadows globals of the same name.
	Globals map[string]any
	// MaxLength bounds the size of a single expression.
	MaxLength int
}

type Renderer struct {
	maxLength int
	options   []expr.Option
	globals   map[string]any
	programs  sync.Map
}

var (
	placeholderRe = regexp.MustCompile(`(?s)\$\{\{(.+?)\}\}`)
	identifierRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

const defaultMaxLength = 4096

func New(opts Options) (*Renderer, error) {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	r := &Renderer{maxLength: maxLength, globals: map[string]any{}}
	functions := map[string]Filter{}
	for name, fn := range builtinFilters() {
		functions[name] = fn
	}

	for name, fn := range opts.Filters {
		if err := addFunction(functions, name, fn); err != nil {
			return nil, err
		}
	}
	for name, value := range opts.Globals {
		if !identifierRe.MatchString(name) {
			return nil, fmt.Errorf("templating: invalid global name %q", name)
		}
		switch v := value.(type) {
		case Filter:
			if err := addFunction(functions, name, v); err != nil {
				return nil, err
			}
		case func(args ...any) (any, error):
			if err := addFunction(functions, name, v); err != nil {
				return nil, err
			}
		default:
			normalized, err := Normalize(value)
			if err != nil {
				return nil, fmt.Errorf("templating: global %q: %w", name, err)
			}
			r.globals[name] = normalized
		}
	}

	r.options = []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Patch(undefinedMembers{}),
	}
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.options = append(r.options, expr.Function(name, functions[name]))
	}
	return r, nil
}

func addFunction(functions map[string]Filter, name string, fn Filter) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("templating: invalid filter name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("templating: filter %q is nil", name)
	}
	if _, exists := functions[name]; exists {
		return fmt.Errorf("templating: filter %q is already defined", name)
	}
	functions[name] = fn
	return nil
}

// HasExpression reports whether s contains at least one placeholder.
func HasExpression(s string) bool {
	return placeholderRe.MatchString(s)
}

// SingleExpression returns the inner expression when s is exactly one
// placeholder and nothing else.
func SingleExpression(s string) (string, bool) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) != 1 {
		return "", false
	}
	m := matches[0]
	if m[0] != 0 || m[1] != len(s) {
		return "", false
	}
	return s[m[2]:m[3]], true
}

// Evaluate runs a bare expression (without the `${{ }}` delimiters). Member
// access through an undefined value yields nil instead of failing.
func (r *Renderer) Evaluate(expression string, data map[string]any) (any, error) {
	out, _, err := r.evaluate(expression, data)
	return out, err
}

func (r *Renderer) evaluate(expression string, data map[string]any) (out any, program *vm.Program, err error) {
	program, err = r.compile(expression)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if v := recover(); v != nil {
			out = nil
			err = fmt.Errorf("templating: expression %q panicked", strings.TrimSpace(expression))
		}
	}()

	result, err := expr.Run(program, r.env(data))
	if err != nil {
		return nil, program, sanitize(err)
	}
	return result, program, nil
}

// Render substitutes every placeholder in template with the string form of
// its value.
func (r *Renderer) Render(template string, data map[string]any) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m[0]])
		value, err := r.Evaluate(template[m[2]:m[3]], data)
		if err != nil {
			return "", err
		}
		s, err := Stringify(value)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
		last = m[1]
	}
	b.WriteString(template[last:])
	return b.String(), nil
}

// RenderValue renders a string leaf of a larger document. A lone placeholder
// keeps the type of its value (numbers stay numbers, null stays null);
// anything else renders to a string. present is false when the result is
// empty: an undefined value for a lone placeholder, "" otherwise.
func (r *Renderer) RenderValue(s string, data map[string]any) (value any, present bool, err error) {
	if inner, ok := SingleExpression(s); ok {
		v, program, err := r.evaluate(inner, data)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			return nil, !undefinedPath(program.Node(), r.env(data)), nil
		}
		normalized, err := Normalize(v)
		if err != nil {
			return nil, false, err
		}
		return normalized, true, nil
	}

	rendered, err := r.Render(s, data)
	if err != nil {
		return nil, false, err
	}
	if rendered == "" {
		return nil, false, nil
	}
	return rendered, true, nil
}

func (r *Renderer) compile(expression string) (*vm.Program, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, errors.New("templating: empty expression")
	}
	if len(expression) > r.maxLength {
		return nil, fmt.Errorf("templating: expression exceeds %d characters", r.maxLength)
	}
	if cached, ok := r.programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression, r.options...)
	if err != nil {
		return nil, sanitize(err)
	}
	r.programs.Store(expression, program)
	return program, nil
}

func (r *Renderer) env(data map[string]any) map[string]any {
	env := make(map[string]any, len(r.globals)+len(data))
	for k, v := range r.globals {
		env[k] = v
	}
	for k, v := range data {
		env[k] = v
	}
	return env
}

// sanitize keeps the first line of an expr error, which names the problem
// without the source excerpt.
func sanitize(err error) error {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return fmt.Errorf("templating: %s", strings.TrimSpace(msg))
}

// undefinedMembers turns every plain member access into an optional one, so
// `steps.skipped.output.flag` is nil when `skipped` has no output.
type undefinedMembers struct{}

func (undefinedMembers) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok || member.Optional || member.Method {
		return
	}
	member.Optional = true
	ast.Patch(node, &ast.ChainNode{Node: member})
}

// undefinedPath reports whether node is a variable path (`a.b[0].c`) that
// does not exist in env. Any other expression is considered defined.
func undefinedPath(node ast.Node, env map[string]any) bool {
	_, isPath, defined := resolvePath(node, env)
	return isPath && !defined
}

func resolvePath(node ast.Node, env map[string]any) (value any, isPath, defined bool) {
	switch n := node.(type) {
	case *ast.ChainNode:
		return resolvePath(n.Node, env)
	case *ast.IdentifierNode:
		v, ok := env[n.Value]
		return v, true, ok
	case *ast.MemberNode:
		base, isPath, defined := resolvePath(n.Node, env)
		if !isPath {
			return nil, false, false
		}
		if !defined {
			return nil, true, false
		}
		switch p := n.Property.(type) {
		case *ast.StringNode:
			m, ok := base.(map[string]any)
			if !ok {
				return nil, true, false
			}
			v, ok := m[p.Value]
			return v, true, ok
		case *ast.IntegerNode:
			list, ok := base.([]any)
			if !ok || p.Value < 0 || p.Value >= len(list) {
				return nil, true, false
			}
			return list[p.Value], true, true
		}
	}
	return nil, false, false
}

// Normalize converts v to its JSON shape.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("templating: value is not JSON serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("templating: %w", err)
	}
	return out, nil
}

// NormalizeMap is Normalize for objects.
func NormalizeMap(v any) (map[string]any, error) {
	out, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("templating: expected an object, got %T", out)
	}
	return m, nil
}

// Stringify is how values are printed inside a larger string.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("templating: cannot print %T", v)
	}
	return string(raw), nil
}

// IsTruthy is the truth value of a rendered condition: false, nil, "", zero
// and empty lists are false.
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
