package postgres

import (
	"fmt"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// query accumulates a SQL string and its positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

func (q *query) add(s string) {
	q.sql += s
}

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window adds Since/Until bounds on col.
func (q *query) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.add(" AND " + col + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.add(" AND " + col + " <= " + q.arg(*opts.Until))
	}
}

// page adds LIMIT and OFFSET.
func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.add(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.add(" OFFSET " + q.arg(opts.Offset))
	}
}
