package query

import (
	"encoding/json"
	"testing"

	"github.com/MKhiriev/go-doc-sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translate(t *testing.T, queryJSON string) *Result {
	t.Helper()
	var ast any
	require.NoError(t, json.Unmarshal([]byte(queryJSON), &ast))
	res, err := NewTranslator("docs", "body").Translate(ast)
	require.NoError(t, err)
	return res
}

func translateErr(t *testing.T, queryJSON string) error {
	t.Helper()
	var ast any
	require.NoError(t, json.Unmarshal([]byte(queryJSON), &ast))
	_, err := NewTranslator("docs", "body").Translate(ast)
	require.Error(t, err)
	return err
}

func TestTranslateExpressions(t *testing.T) {
	const prefix = "SELECT docs.* FROM docs WHERE "
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			"property equality",
			`["=", [".", "type"], "person"]`,
			prefix + `fl_value(body, 'type') = 'person'`,
		},
		{
			"property path with index",
			`["=", [".", "a", "b", [2], "c"], 1]`,
			prefix + `fl_value(body, 'a.b[2].c') = 1`,
		},
		{
			"compact property path",
			`["=", [".a.b[2].c"], 1]`,
			prefix + `fl_value(body, 'a.b[2].c') = 1`,
		},
		{
			"meta properties",
			`["AND", ["=", [".", "_id"], "doc1"], [">", [".", "_sequence"], 5]]`,
			prefix + `key = 'doc1' AND sequence > 5`,
		},
		{
			"named parameter",
			`["=", [".", "age"], ["$", "min"]]`,
			prefix + `fl_value(body, 'age') = $_min`,
		},
		{
			"compact named parameter",
			`["=", [".", "age"], ["$min"]]`,
			prefix + `fl_value(body, 'age') = $_min`,
		},
		{
			"string quoting",
			`["=", [".", "name"], "O'Brien"]`,
			prefix + `fl_value(body, 'name') = 'O''Brien'`,
		},
		{
			"null literal",
			`["IS", [".", "spouse"], null]`,
			prefix + `fl_value(body, 'spouse') IS NULL`,
		},
		{
			"booleans",
			`["=", [".", "active"], true]`,
			prefix + `fl_value(body, 'active') = 1`,
		},
		{
			"same-precedence operands parenthesize",
			`["AND", ["OR", ["=", [".a"], 1], ["=", [".b"], 2]], ["=", [".c"], 3]]`,
			prefix + `(fl_value(body, 'a') = 1 OR fl_value(body, 'b') = 2) AND fl_value(body, 'c') = 3`,
		},
		{
			"arithmetic precedence",
			`["=", ["*", ["+", [".a"], 1], 2], 10]`,
			prefix + `(fl_value(body, 'a') + 1) * 2 = 10`,
		},
		{
			"unary minus",
			`[">", [".balance"], ["-", 10]]`,
			prefix + `fl_value(body, 'balance') > -10`,
		},
		{
			"NOT",
			`["NOT", ["=", [".a"], 1]]`,
			prefix + `NOT (fl_value(body, 'a') = 1)`,
		},
		{
			"IN list",
			`["IN", [".", "type"], "person", "robot"]`,
			prefix + `fl_value(body, 'type') IN ('person', 'robot')`,
		},
		{
			"BETWEEN",
			`["BETWEEN", [".", "age"], 18, 65]`,
			prefix + `fl_value(body, 'age') BETWEEN 18 AND 65`,
		},
		{
			"EXISTS property",
			`["EXISTS", [".", "email"]]`,
			prefix + `fl_exists(body, 'email')`,
		},
		{
			"function call",
			`["=", ["lower()", [".", "name"]], "bob"]`,
			prefix + `lower(fl_value(body, 'name')) = 'bob'`,
		},
		{
			"count shortcut",
			`[">", ["count()", [".", "names"]], 2]`,
			prefix + `fl_count(body, 'names') > 2`,
		},
		{
			"ANY quantifier",
			`["ANY", "v", [".", "names"], ["=", ["?", "v"], "eight"]]`,
			prefix + `EXISTS (SELECT 1 FROM fl_each(body, 'names') AS _v WHERE _v.value = 'eight')`,
		},
		{
			"EVERY quantifier",
			`["EVERY", "v", [".", "scores"], [">", ["?", "v"], 0]]`,
			prefix + `NOT EXISTS (SELECT 1 FROM fl_each(body, 'scores') AS _v WHERE NOT (_v.value > 0))`,
		},
		{
			"ANY AND EVERY quantifier",
			`["ANY AND EVERY", "v", [".", "scores"], [">", ["?", "v"], 0]]`,
			prefix + `(fl_count(body, 'scores') > 0 AND NOT EXISTS (SELECT 1 FROM fl_each(body, 'scores') AS _v WHERE NOT (_v.value > 0)))`,
		},
		{
			"variable with nested path",
			`["ANY", "v", [".", "addresses"], ["=", ["?", "v", "city"], "Oslo"]]`,
			prefix + `EXISTS (SELECT 1 FROM fl_each(body, 'addresses') AS _v WHERE fl_value(_v.pointer, 'city') = 'Oslo')`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := translate(t, tt.query)
			assert.Equal(t, tt.want, res.SQL)
		})
	}
}

func TestTranslateMatch(t *testing.T) {
	res := translate(t,
		`["AND", ["=", [".", "type"], "person"], ["MATCH", [".", "bio"], "cat"]]`)
	assert.Equal(t,
		`SELECT docs.*, offsets("docs::bio") FROM docs, "docs::bio" AS FTS1 `+
			`WHERE fl_value(body, 'type') = 'person' AND `+
			`(FTS1.text MATCH 'cat' AND FTS1.rowid = docs.sequence)`,
		res.SQL)
}

func TestTranslateMatchAssignsTablesInOrder(t *testing.T) {
	res := translate(t,
		`["AND", ["MATCH", [".", "bio"], "cat"], ["MATCH", [".", "notes"], "dog"]]`)
	assert.Contains(t, res.SQL, `"docs::bio" AS FTS1`)
	assert.Contains(t, res.SQL, `"docs::notes" AS FTS2`)
	assert.Contains(t, res.SQL, `FTS1.text MATCH 'cat'`)
	assert.Contains(t, res.SQL, `FTS2.text MATCH 'dog'`)
}

func TestTranslateRankRequiresMatch(t *testing.T) {
	err := translateErr(t, `[">", ["rank()", [".", "bio"]], 0.5]`)
	assert.ErrorIs(t, err, models.ErrInvalidQuery)

	res := translate(t,
		`["AND", ["MATCH", [".", "bio"], "cat"], [">", ["rank()", [".", "bio"]], 0.5]]`)
	assert.Contains(t, res.SQL, `rank(matchinfo("docs::bio")) > 0.5`)
}

func TestTranslateSelectOperands(t *testing.T) {
	res := translate(t,
		`{"WHERE": ["=", [".", "type"], "person"], "ORDER BY": [["DESC", [".name"]]]}`)
	assert.Equal(t,
		`SELECT docs.* FROM docs WHERE fl_value(body, 'type') = 'person' `+
			`ORDER BY fl_value(body, 'name') DESC`,
		res.SQL)

	res = translate(t, `["SELECT", {"WHERE": ["=", [".a"], 1]}]`)
	assert.Equal(t, `SELECT docs.* FROM docs WHERE fl_value(body, 'a') = 1`, res.SQL)
}

func TestTranslateParameterManifest(t *testing.T) {
	res := translate(t,
		`["AND", ["=", [".a"], ["$", "zeta"]], ["=", [".b"], ["$alpha"]]]`)
	assert.Equal(t, []string{"alpha", "zeta"}, res.Parameters)
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown operator", `["FROB", 1, 2]`},
		{"wrong arity", `["/", 1, 2, 3]`},
		{"empty array", `["AND", [], 1]`},
		{"dict outside select", `["=", [".a"], {"x": 1}]`},
		{"match source not property", `["MATCH", "bio", "cat"]`},
		{"bad parameter name", `["$", "no-dashes"]`},
		{"variable shadowing", `["ANY", "v", [".", "a"], ["ANY", "v", [".", "b"], ["=", ["?", "v"], 1]]]`},
		{"unknown variable", `["=", ["?", "v"], 1]`},
		{"meta property in count", `["count()", [".", "_id"]]`},
		{"path starts with index", `["=", [".", [0], "a"], 1]`},
		{"unsupported WHAT", `{"WHAT": ["x"], "WHERE": ["=", [".a"], 1]}`},
		{"unsupported FROM", `{" FROM": "other", "WHERE": ["=", [".a"], 1]}`},
		{"unsupported GROUP BY", `{"GROUP BY": ["x"], "WHERE": ["=", [".a"], 1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateErr(t, tt.query)
			assert.ErrorIs(t, err, models.ErrInvalidQuery)
		})
	}
}

func TestTranslateRejectsBinary(t *testing.T) {
	_, err := NewTranslator("docs", "body").Translate(
		[]any{"=", []any{".", "blob"}, []byte{1, 2, 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidQuery)
}

func TestPropertyGetterSQL(t *testing.T) {
	sql, err := PropertyGetterSQL("a.b[2].c", "body")
	require.NoError(t, err)
	assert.Equal(t, `fl_value(body, 'a.b[2].c')`, sql)

	sql, err = PropertyGetterSQL("_id", "body")
	require.NoError(t, err)
	assert.Equal(t, "key", sql)
}
