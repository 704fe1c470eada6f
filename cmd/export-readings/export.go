package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type exportQuery struct {
	Galon string
	From  *time.Time
	To    *time.Time
	Limit int
}

// build 生成 SQL 与参数；按 id 升序即写入顺序。
func (q exportQuery) build() (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if q.Galon != "" {
		where = append(where, "galon = ?")
		args = append(args, q.Galon)
	}
	if q.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *q.From)
	}
	if q.To != nil {
		where = append(where, "timestamp < ?")
		args = append(args, *q.To)
	}
	var b strings.Builder
	b.WriteString("SELECT id, galon, value, timestamp FROM galon_data")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id ASC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

// exportCSV 逐行写出 id,galon,value,timestamp，返回写出的行数。
func exportCSV(ctx context.Context, db *sql.DB, q exportQuery, loc *time.Location, w io.Writer) (int, error) {
	query, args := q.build()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query galon_data: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "galon", "value", "timestamp"}); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		var (
			id    uint64
			galon string
			value float64
			ts    time.Time
		)
		if err := rows.Scan(&id, &galon, &value, &ts); err != nil {
			return n, fmt.Errorf("scan: %w", err)
		}
		rec := []string{
			strconv.FormatUint(id, 10),
			galon,
			strconv.FormatFloat(value, 'f', -1, 64),
			ts.In(loc).Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("rows: %w", err)
	}
	cw.Flush()
	return n, cw.Error()
}
