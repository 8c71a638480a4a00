package cursor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cursoragent/internal/config"
)

func blockConfig(action string) config.Config {
	c := baseConfig(action)
	c.Cursor.Mode = config.CursorModeBlock
	return c
}

func TestBlockSQL(t *testing.T) {
	t.Parallel()

	got := blockSQL(`"c"`, "SELECT id FROM t", "PERFORM f(rec.id);")
	want := strings.Join([]string{
		"DO $cursoragent$",
		"DECLARE",
		`    "c" CURSOR FOR SELECT id FROM t;`,
		"    rec RECORD;",
		"    row_count INTEGER := 0;",
		"BEGIN",
		`    OPEN "c";`,
		"    LOOP",
		`        FETCH NEXT FROM "c" INTO rec;`,
		"        EXIT WHEN NOT FOUND;",
		"        row_count := row_count + 1;",
		"        PERFORM f(rec.id);",
		"    END LOOP;",
		`    CLOSE "c";`,
		"    RAISE NOTICE 'cursoragent_rows=%', row_count;",
		"END",
		"$cursoragent$",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestRowsFromNotices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		notices []string
		want    int
		ok      bool
	}{
		{nil, 0, false},
		{[]string{"something else"}, 0, false},
		{[]string{"cursoragent_rows=4"}, 4, true},
		{[]string{"cursoragent_rows=1", "noise", "cursoragent_rows=9"}, 9, true},
		{[]string{"cursoragent_rows=abc"}, 0, false},
	}
	for _, tt := range tests {
		n, ok := rowsFromNotices(tt.notices)
		assert.Equal(t, tt.want, n, "%v", tt.notices)
		assert.Equal(t, tt.ok, ok, "%v", tt.notices)
	}
}

func TestExecute_BlockModeExactCount(t *testing.T) {
	t.Parallel()

	d := newFakeDB(1, 2, 3)
	d.blockNotice = "cursoragent_rows=3"
	d.actions["DO"] = markDone()

	res := newTestProcessor(t, blockConfig("process_row(rec.id)"), d).Execute(context.Background())

	require.True(t, res.Success)
	assert.Equal(t, 3, res.RowsProcessed)
	assert.True(t, res.RowsProcessedExact)
	assert.Equal(t, TxCommitted, res.Transaction)
	assert.Equal(t, []int64{1, 2, 3}, d.done())
	assert.Contains(t, d.statements[1], "        PERFORM process_row(rec.id);\n")
	assert.NotContains(t, d.statements, `FETCH NEXT FROM "c"`, "no client-side fetches")
}

func TestExecute_BlockModeWithoutNoticesReportsZero(t *testing.T) {
	t.Parallel()

	d := newFakeDB(1, 2, 3)
	d.blockNotice = "cursoragent_rows=3"
	d.hideNotices = true

	res := newTestProcessor(t, blockConfig("UPDATE t SET done = true WHERE id = rec.id;"), d).Execute(context.Background())

	require.True(t, res.Success)
	assert.Equal(t, 0, res.RowsProcessed)
	assert.False(t, res.RowsProcessedExact)
}

func TestExecute_BlockModeFailureRollsBack(t *testing.T) {
	t.Parallel()

	d := newFakeDB(1, 2, 3)
	d.actions["DO"] = markDone(2)

	res := newTestProcessor(t, blockConfig("process_row(rec.id)"), d).Execute(context.Background())

	require.False(t, res.Success)
	e, ok := res.TerminalError()
	require.True(t, ok)
	assert.Equal(t, KindBlock, e.Type)
	assert.Equal(t, TxRolledBack, res.Transaction)
	assert.Empty(t, d.done())
}
