// Package query compiles JSON-encoded query ASTs into SQL over the
// document store's virtual schema.
//
// A query is either a map of SELECT operands, an array ["SELECT", {...}],
// or a bare expression treated as an implicit WHERE clause. Expressions are
// arrays of the form [operator, arg0, arg1, ...] or primitive literals.
// Document properties compile to fl_value(<body>, '<path>') accessor calls,
// named $parameters are collected into a manifest, and MATCH expressions
// join external full-text index tables.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MKhiriev/go-doc-sync/models"
)

// Result is the output of a successful translation.
type Result struct {
	SQL        string
	Parameters []string // named parameters referenced, without the $ prefix
}

// Translator compiles one query at a time. It is not safe for concurrent
// use; create one per translation.
type Translator struct {
	tableName  string
	bodyColumn string

	sql        strings.Builder
	context    []*operation
	parameters map[string]struct{}
	variables  map[string]struct{}
	ftsProps   []string
}

// NewTranslator returns a translator targeting the given table, with
// document bodies stored in bodyColumn.
func NewTranslator(tableName, bodyColumn string) *Translator {
	return &Translator{
		tableName:  tableName,
		bodyColumn: bodyColumn,
		parameters: make(map[string]struct{}),
		variables:  make(map[string]struct{}),
	}
}

// Translate compiles the query AST. ast holds the value trees produced by
// encoding/json: map[string]any, []any, string, float64, bool, and nil.
func (t *Translator) Translate(ast any) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			te, ok := r.(translateError)
			if !ok {
				panic(r)
			}
			res, err = nil, te.err
		}
	}()

	t.reset()
	switch node := ast.(type) {
	case map[string]any:
		// A bare dict is the operand set of a SELECT.
		t.writeSelect(node["WHERE"], node)
	case []any:
		if len(node) > 0 {
			if op, ok := node[0].(string); ok && op == "SELECT" {
				t.parseNode(node)
				break
			}
		}
		t.writeSelect(ast, nil)
	default:
		t.writeSelect(ast, nil)
	}

	params := make([]string, 0, len(t.parameters))
	for p := range t.parameters {
		params = append(params, p)
	}
	sort.Strings(params)
	return &Result{SQL: t.sql.String(), Parameters: params}, nil
}

// PropertyGetterSQL returns the standalone SQL fragment reading a document
// property, e.g. PropertyGetterSQL("a.b", "body") -> "fl_value(body, 'a.b')".
func PropertyGetterSQL(property, bodyColumn string) (sql string, err error) {
	t := NewTranslator("", bodyColumn)
	defer func() {
		if r := recover(); r != nil {
			te, ok := r.(translateError)
			if !ok {
				panic(r)
			}
			sql, err = "", te.err
		}
	}()
	t.reset()
	t.writePropertyGetter("fl_value", property)
	return t.sql.String(), nil
}

func (t *Translator) reset() {
	t.sql.Reset()
	t.context = t.context[:0]
	t.context = append(t.context, &outerOperation)
	clear(t.parameters)
	clear(t.variables)
	t.ftsProps = t.ftsProps[:0]
}

// translateError carries an invalid-query failure up through the recursive
// writer; Translate converts it back into an ordinary error return.
type translateError struct{ err error }

func (t *Translator) fail(format string, args ...any) {
	panic(translateError{models.Errorf(models.DomainSync, models.CodeInvalidQuery, format, args...)})
}

// Operator kinds dispatched in handleOperation.
type opKind int

const (
	kindProperty opKind = iota
	kindParameter
	kindVariable
	kindInfix
	kindPrefix
	kindPostfix
	kindIn
	kindMatch
	kindBetween
	kindExists
	kindAnyEvery
	kindSelect
	kindFallback
)

type operation struct {
	op         string
	minArgs    int
	maxArgs    int
	precedence int
	kind       opKind
}

// operations defines every operator: name, arity bounds, precedence, kind.
// 9 stands in for "unbounded" arity. The fallback entry must stay last.
var operations = []operation{
	{".", 1, 9, 9, kindProperty},
	{"$", 1, 1, 9, kindParameter},
	{"?", 1, 9, 9, kindVariable},

	{"||", 2, 9, 8, kindInfix},

	{"*", 2, 9, 7, kindInfix},
	{"/", 2, 2, 7, kindInfix},
	{"%", 2, 2, 7, kindInfix},

	{"+", 2, 9, 6, kindInfix},
	{"-", 2, 2, 6, kindInfix},
	{"-", 1, 1, 9, kindPrefix},

	{"<", 2, 2, 4, kindInfix},
	{"<=", 2, 2, 4, kindInfix},
	{">", 2, 2, 4, kindInfix},
	{">=", 2, 2, 4, kindInfix},

	{"=", 2, 2, 3, kindInfix},
	{"!=", 2, 2, 3, kindInfix},
	{"IS", 2, 2, 3, kindInfix},
	{"IS NOT", 2, 2, 3, kindInfix},
	{"IN", 2, 9, 3, kindIn},
	{"NOT IN", 2, 9, 3, kindIn},
	{"LIKE", 2, 2, 3, kindInfix},
	{"MATCH", 2, 2, 3, kindMatch},
	{"BETWEEN", 3, 3, 3, kindBetween},
	{"EXISTS", 1, 1, 8, kindExists},

	{"NOT", 1, 1, 9, kindPrefix},
	{"AND", 2, 9, 2, kindInfix},
	{"OR", 2, 9, 2, kindInfix},

	{"ANY", 3, 3, 1, kindAnyEvery},
	{"EVERY", 3, 3, 1, kindAnyEvery},
	{"ANY AND EVERY", 3, 3, 1, kindAnyEvery},

	{"SELECT", 1, 1, 1, kindSelect},

	{"DESC", 1, 1, 2, kindPostfix},

	{"", 0, 9, 10, kindFallback}, // fallback, must come last
}

// Sentinel operations controlling parenthesization of special contexts:
// argument lists always parenthesize, ORDER BY never does, and the outer
// context lets any real operator through bare.
var (
	argListOperation = operation{",", 0, 9, -2, kindInfix}
	orderByOperation = operation{"ORDER BY", 1, 9, -3, kindInfix}
	outerOperation   = operation{"", 1, 1, -1, kindInfix}
)

// selectKeys not yet supported as SELECT operands.
var unsupportedSelectKeys = []string{"WHAT", "FROM", " FROM", "GROUP BY", "HAVING"}

func (t *Translator) writeSelect(where any, operands map[string]any) {
	for _, key := range unsupportedSelectKeys {
		if operands != nil {
			if _, ok := operands[key]; ok {
				t.fail("%s parameter to SELECT isn't supported yet", strings.TrimSpace(key))
			}
		}
	}

	// All MATCH properties must be known before the FROM clause is written.
	if where != nil {
		t.findFTSProperties(where)
	}

	t.sql.WriteString("SELECT ")
	t.sql.WriteString(t.tableName)
	t.sql.WriteString(".*")
	for _, prop := range t.ftsProps {
		fmt.Fprintf(&t.sql, ", offsets(\"%s::%s\")", t.tableName, prop)
	}

	t.sql.WriteString(" FROM ")
	t.sql.WriteString(t.tableName)
	for i, prop := range t.ftsProps {
		fmt.Fprintf(&t.sql, ", \"%s::%s\" AS FTS%d", t.tableName, prop, i+1)
	}

	if where != nil {
		t.sql.WriteString(" WHERE ")
		t.parseNode(where)
	}

	if operands != nil {
		if order, ok := operands["ORDER BY"]; ok {
			t.sql.WriteString(" ORDER BY ")
			orderings, ok := order.([]any)
			if !ok {
				t.fail("ORDER BY must be an array")
			}
			t.context = append(t.context, &orderByOperation)
			t.writeArgList(orderings)
			t.context = t.context[:len(t.context)-1]
		}
	}
}

func (t *Translator) parseNode(node any) {
	switch v := node.(type) {
	case nil:
		t.sql.WriteString("NULL")
	case bool:
		if v {
			t.sql.WriteByte('1')
		} else {
			t.sql.WriteByte('0')
		}
	case float64:
		t.sql.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case int:
		t.sql.WriteString(strconv.Itoa(v))
	case int64:
		t.sql.WriteString(strconv.FormatInt(v, 10))
	case string:
		t.writeSQLString(v)
	case []byte:
		t.fail("binary data not supported in query")
	case []any:
		t.parseOpNode(v)
	case map[string]any:
		t.fail("dictionaries not supported in query")
	default:
		t.fail("unsupported value of type %T in query", node)
	}
}

func (t *Translator) parseOpNode(node []any) {
	if len(node) == 0 {
		t.fail("empty JSON array")
	}
	op, ok := node[0].(string)
	if !ok {
		t.fail("operation must be a string")
	}
	args := node[1:]

	nargs := min(len(args), 9)
	nameMatched := false
	var def *operation
	for i := range operations {
		def = &operations[i]
		if def.op == "" {
			break // fallback
		}
		if def.op == op {
			nameMatched = true
			if nargs >= def.minArgs && nargs <= def.maxArgs {
				break
			}
		}
	}
	if nameMatched && def.op == "" {
		t.fail("wrong number of arguments to %s", op)
	}
	t.handleOperation(def, op, args)
}

// handleOperation pushes the operation onto the context stack, writing
// parentheses when its precedence does not exceed the enclosing one.
func (t *Translator) handleOperation(def *operation, op string, args []any) {
	parenthesize := def.precedence <= t.context[len(t.context)-1].precedence
	t.context = append(t.context, def)
	if parenthesize {
		t.sql.WriteByte('(')
	}

	switch def.kind {
	case kindProperty:
		t.writePropertyGetter("fl_value", t.propertyFromOperands(args))
	case kindParameter:
		t.writeParameter(op, args)
	case kindVariable:
		t.writeVariable(args)
	case kindInfix:
		t.writeInfix(op, args)
	case kindPrefix:
		t.writePrefix(op, args)
	case kindPostfix:
		t.writePostfix(op, args)
	case kindIn:
		t.writeIn(op, args)
	case kindMatch:
		t.writeMatch(args)
	case kindBetween:
		t.writeBetween(op, args)
	case kindExists:
		t.writeExists(op, args)
	case kindAnyEvery:
		t.writeAnyEvery(op, args)
	case kindSelect:
		t.writeNestedSelect(args)
	case kindFallback:
		t.writeFallback(op, args)
	}

	if parenthesize {
		t.sql.WriteByte(')')
	}
	t.context = t.context[:len(t.context)-1]
}

func (t *Translator) writeInfix(op string, args []any) {
	for i, arg := range args {
		if i > 0 {
			if op != "," { // argument lists separate with ", " only
				t.sql.WriteByte(' ')
			}
			t.sql.WriteString(op)
			t.sql.WriteByte(' ')
		}
		t.parseNode(arg)
	}
}

func (t *Translator) writePrefix(op string, args []any) {
	t.sql.WriteString(op)
	if isAlpha(op[len(op)-1]) {
		t.sql.WriteByte(' ')
	}
	t.parseNode(args[0])
}

func (t *Translator) writePostfix(op string, args []any) {
	t.parseNode(args[0])
	t.sql.WriteByte(' ')
	t.sql.WriteString(op)
}

func (t *Translator) writeIn(op string, args []any) {
	t.parseNode(args[0])
	t.sql.WriteByte(' ')
	t.sql.WriteString(op)
	t.sql.WriteByte(' ')
	t.writeArgList(args[1:])
}

func (t *Translator) writeBetween(op string, args []any) {
	t.parseNode(args[0])
	t.sql.WriteByte(' ')
	t.sql.WriteString(op)
	t.sql.WriteByte(' ')
	t.parseNode(args[1])
	t.sql.WriteString(" AND ")
	t.parseNode(args[2])
}

func (t *Translator) writeExists(op string, args []any) {
	// "EXISTS property" compiles to a call to fl_exists.
	if t.writeNestedPropertyOpIfAny("fl_exists", args) {
		return
	}
	t.sql.WriteString(op)
	t.sql.WriteByte(' ')
	t.parseNode(args[0])
}

// writeMatch joins the full-text index table assigned to the property in
// the FROM-clause pre-pass.
func (t *Translator) writeMatch(args []any) {
	property := propertyFromNode(args[0])
	if property == "" {
		t.fail("source of MATCH must be a property")
	}
	ftsTableNo := t.addFTSProperty(property)
	fmt.Fprintf(&t.sql, "(FTS%d.text MATCH ", ftsTableNo)
	t.parseNode(args[1])
	fmt.Fprintf(&t.sql, " AND FTS%d.rowid = %s.sequence)", ftsTableNo, t.tableName)
}

func (t *Translator) writeAnyEvery(op string, args []any) {
	varName, _ := args[0].(string)
	if !isValidIdentifier(varName) {
		t.fail("ANY/EVERY first parameter must be an identifier")
	}
	if _, used := t.variables[varName]; used {
		t.fail("variable '%s' is already in use", varName)
	}
	t.variables[varName] = struct{}{}
	defer delete(t.variables, varName)

	property := propertyFromNode(args[1])
	if property == "" {
		t.fail("ANY/EVERY only supports a property as its source")
	}

	every := op != "ANY"
	anyAndEvery := op == "ANY AND EVERY"

	if anyAndEvery {
		t.sql.WriteByte('(')
		t.writePropertyGetter("fl_count", property)
		t.sql.WriteString(" > 0 AND ")
	}
	if every {
		t.sql.WriteString("NOT ")
	}
	t.sql.WriteString("EXISTS (SELECT 1 FROM ")
	t.writePropertyGetter("fl_each", property)
	fmt.Fprintf(&t.sql, " AS _%s WHERE ", varName)
	if every {
		t.sql.WriteString("NOT (")
	}
	t.parseNode(args[2])
	if every {
		t.sql.WriteByte(')')
	}
	t.sql.WriteByte(')')
	if anyAndEvery {
		t.sql.WriteByte(')')
	}
}

func (t *Translator) writeParameter(op string, args []any) {
	var name string
	if op == "$" {
		name = fmt.Sprint(args[0])
	} else {
		name = op[1:]
		if len(args) > 0 {
			t.fail("extra operands to %s", name)
		}
	}
	if !isAlphanumericOrUnderscore(name) {
		t.fail("invalid query parameter name")
	}
	t.parameters[name] = struct{}{}
	t.sql.WriteString("$_")
	t.sql.WriteString(name)
}

func (t *Translator) writeVariable(args []any) {
	varName, _ := args[0].(string)
	if !isValidIdentifier(varName) {
		t.fail("invalid variable name")
	}
	if _, known := t.variables[varName]; !known {
		t.fail("no such variable '%s'", varName)
	}

	if len(args) == 1 {
		fmt.Fprintf(&t.sql, "_%s.value", varName)
		return
	}
	property := t.propertyFromOperands(args[1:])
	fmt.Fprintf(&t.sql, "fl_value(_%s.pointer, ", varName)
	t.writeSQLString(property)
	t.sql.WriteByte(')')
}

func (t *Translator) writeNestedSelect(args []any) {
	operands, ok := args[0].(map[string]any)
	if !ok {
		t.fail("argument to SELECT must be an object")
	}
	if len(t.context) <= 2 {
		// Outer SELECT.
		t.writeSelect(operands["WHERE"], operands)
		return
	}
	// Nested SELECT compiles with a fresh translator.
	nested := NewTranslator(t.tableName, t.bodyColumn)
	res, err := nested.Translate(operands)
	if err != nil {
		panic(translateError{err})
	}
	for p := range nested.parameters {
		t.parameters[p] = struct{}{}
	}
	t.sql.WriteString(res.SQL)
}

// writeFallback handles unrecognized operators: ".path" property shortcuts,
// "$name" parameter shortcuts, and "name()" function calls.
func (t *Translator) writeFallback(op string, args []any) {
	// Give the fallback's context entry the real operator name.
	actual := *t.context[len(t.context)-1]
	actual.op = op
	t.context[len(t.context)-1] = &actual

	switch {
	case op == "":
		t.fail("operation must be a non-empty string")
	case op[0] == '.':
		t.writePropertyGetter("fl_value", op[1:])
	case op[0] == '$':
		t.writeParameter(op, args)
	case len(op) > 2 && strings.HasSuffix(op, "()"):
		t.writeFunction(op[:len(op)-2], args)
	default:
		t.fail("unknown operator: %s", op)
	}
}

func (t *Translator) writeFunction(name string, args []any) {
	// count(property) and rank(property) have dedicated accessors.
	if name == "count" && t.writeNestedPropertyOpIfAny("fl_count", args) {
		return
	}
	if name == "rank" && t.writeNestedPropertyOpIfAny("rank", args) {
		return
	}
	t.sql.WriteString(name)
	t.writeArgList(args)
}

// writeArgList writes a comma-separated list, parenthesized unless the
// surrounding context suppresses it.
func (t *Translator) writeArgList(args []any) {
	t.handleOperation(&argListOperation, argListOperation.op, args)
}

// propertyFromOperands concatenates path segments and [index] components
// into a property path string.
func (t *Translator) propertyFromOperands(args []any) string {
	var path strings.Builder
	for n, arg := range args {
		switch item := arg.(type) {
		case []any:
			if n == 0 {
				t.fail("property path can't start with an array index")
			}
			if len(item) != 1 {
				t.fail("property array index must have exactly one item")
			}
			idx, ok := asInteger(item[0])
			if !ok {
				t.fail("property array index must be an integer")
			}
			fmt.Fprintf(&path, "[%d]", idx)
		case string:
			if n > 0 {
				path.WriteByte('.')
			}
			path.WriteString(item)
		default:
			t.fail("invalid JSON value in property path")
		}
	}
	return path.String()
}

// propertyFromNode returns the property path represented by a node, or ""
// when the node is not a property expression.
func propertyFromNode(node any) string {
	arr, ok := node.([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	op, ok := arr[0].(string)
	if !ok || op == "" || op[0] != '.' {
		return ""
	}
	if op == "." {
		var path strings.Builder
		for n, arg := range arr[1:] {
			s, ok := arg.(string)
			if !ok {
				return ""
			}
			if n > 0 {
				path.WriteByte('.')
			}
			path.WriteString(s)
		}
		return path.String()
	}
	return op[1:]
}

// writeNestedPropertyOpIfAny writes fnName(<body>, '<path>') when the first
// operand is a property expression. Reports whether it did.
func (t *Translator) writeNestedPropertyOpIfAny(fnName string, args []any) bool {
	if len(args) == 0 {
		return false
	}
	property := propertyFromNode(args[0])
	if property == "" {
		return false
	}
	t.writePropertyGetter(fnName, property)
	return true
}

func (t *Translator) writePropertyGetter(fn, property string) {
	switch {
	case property == "_id":
		if fn != "fl_value" {
			t.fail("can't use '_id' in this context")
		}
		t.sql.WriteString("key")
	case property == "_sequence":
		if fn != "fl_value" {
			t.fail("can't use '_sequence' in this context")
		}
		t.sql.WriteString("sequence")
	case fn == "rank":
		// rank() reads matchinfo from the FTS table, which must already be
		// joined by a MATCH on the same property.
		if t.ftsPropertyIndex(property) == 0 {
			t.fail("rank() can only be used with FTS properties")
		}
		fmt.Fprintf(&t.sql, "rank(matchinfo(\"%s::%s\"))", t.tableName, property)
	default:
		t.sql.WriteString(fn)
		t.sql.WriteByte('(')
		t.sql.WriteString(t.bodyColumn)
		t.sql.WriteString(", ")
		t.writeSQLString(trimPathRoot(property))
		t.sql.WriteByte(')')
	}
}

// trimPathRoot strips an explicit "$" or "$." document-root prefix.
func trimPathRoot(path string) string {
	if strings.HasPrefix(path, "$.") {
		return path[2:]
	}
	if strings.HasPrefix(path, "$") {
		return path[1:]
	}
	return path
}

// writeSQLString quotes a string for SQL: wrapped in apostrophes with
// contained apostrophes doubled.
func (t *Translator) writeSQLString(s string) {
	t.sql.WriteByte('\'')
	t.sql.WriteString(strings.ReplaceAll(s, "'", "''"))
	t.sql.WriteByte('\'')
}

// findFTSProperties pre-scans an expression for MATCH operators so that
// their index tables can be added to the FROM clause before the WHERE
// clause references them.
func (t *Translator) findFTSProperties(node any) {
	arr, ok := node.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	op, _ := arr[0].(string)
	rest := arr[1:]
	if op == "MATCH" && len(rest) > 0 {
		if property := propertyFromNode(rest[0]); property != "" {
			t.addFTSProperty(property)
		}
		rest = rest[1:]
	}
	for _, arg := range rest {
		t.findFTSProperties(arg)
	}
}

func (t *Translator) ftsPropertyIndex(property string) int {
	for i, p := range t.ftsProps {
		if p == property {
			return i + 1
		}
	}
	return 0
}

func (t *Translator) addFTSProperty(property string) int {
	if i := t.ftsPropertyIndex(property); i != 0 {
		return i
	}
	t.ftsProps = append(t.ftsProps, property)
	return len(t.ftsProps)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlphanumericOrUnderscore(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlpha(c) && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

func isValidIdentifier(s string) bool {
	return isAlphanumericOrUnderscore(s) && (s[0] < '0' || s[0] > '9')
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
