package cursor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cursoragent/internal/db"
)

const (
	blockQuote       = "$cursoragent$"
	rowsNoticePrefix = "cursoragent_rows="
)

// checkBlock rejects text that would terminate the block's dollar quote.
func checkBlock(query, action string) error {
	if strings.Contains(query, blockQuote) || strings.Contains(action, blockQuote) {
		return fmt.Errorf("block mode cannot embed %s", blockQuote)
	}
	return nil
}

// blockSQL composes the whole fetch loop as one anonymous block. The action
// is spliced into the loop body and can read the current row as rec.
func blockSQL(quoted, query, action string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DO %s\nDECLARE\n", blockQuote)
	fmt.Fprintf(&b, "    %s CURSOR FOR %s;\n", quoted, query)
	b.WriteString("    rec RECORD;\n")
	b.WriteString("    row_count INTEGER := 0;\n")
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "    OPEN %s;\n", quoted)
	b.WriteString("    LOOP\n")
	fmt.Fprintf(&b, "        FETCH NEXT FROM %s INTO rec;\n", quoted)
	b.WriteString("        EXIT WHEN NOT FOUND;\n")
	b.WriteString("        row_count := row_count + 1;\n")
	fmt.Fprintf(&b, "        %s\n", action)
	b.WriteString("    END LOOP;\n")
	fmt.Fprintf(&b, "    CLOSE %s;\n", quoted)
	fmt.Fprintf(&b, "    RAISE NOTICE '%s%%', row_count;\n", rowsNoticePrefix)
	fmt.Fprintf(&b, "END\n%s", blockQuote)
	return b.String()
}

// block runs the loop server side. Any failure inside the block, including
// one raised by the action, fails the whole block. The row count is exact
// only when the connection surfaces the closing notice; otherwise it is
// reported as 0 and not exact.
func (r *run) block(ctx context.Context) error {
	action, err := r.p.action.BlockStatement(r.name)
	if err != nil {
		return terminal(KindUnexpected, err)
	}
	if !strings.HasSuffix(strings.TrimSpace(action), ";") {
		action += ";"
	}

	nr, _ := r.conn.(db.NoticeReader)
	if nr != nil {
		nr.Notices() // drop anything raised before the block
	}

	if err := r.conn.Exec(ctx, blockSQL(r.quoted, r.p.cfg.Cursor.Query, action)); err != nil {
		return terminal(KindBlock, err)
	}
	r.log.Info("block executed")

	n, ok := 0, false
	if nr != nil {
		n, ok = rowsFromNotices(nr.Notices())
	}
	r.b.res.RowsProcessed = n
	r.b.res.RowsProcessedExact = ok
	if !ok {
		r.log.Warn("row count not reported by the server; rows_processed is 0")
	}
	return nil
}

// rowsFromNotices returns the count from the last row count notice.
func rowsFromNotices(notices []string) (int, bool) {
	for i := len(notices) - 1; i >= 0; i-- {
		msg := strings.TrimSpace(notices[i])
		if !strings.HasPrefix(msg, rowsNoticePrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(msg, rowsNoticePrefix))
		return n, err == nil
	}
	return 0, false
}
