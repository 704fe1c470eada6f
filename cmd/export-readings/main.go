package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	_ "github.com/go-sql-driver/mysql"

	"espdata/internal/config"
	"espdata/internal/utils"
)

// 导出命令：直接从 galon_data 读取读数并输出为 CSV，不经过 HTTP 服务。
// 用法：go run ./cmd/export-readings [-galon g] [-from T] [-to T] [-limit N] [-out file.csv]
func main() {
	galon := flag.String("galon", "", "only export this galon")
	from := flag.String("from", "", "start time (inclusive), RFC3339 or 'YYYY-MM-DD HH:MM:SS' in the service time zone")
	to := flag.String("to", "", "end time (exclusive)")
	limit := flag.Int("limit", 0, "max rows (0 for all)")
	out := flag.String("out", "-", "output file, '-' for stdout")
	flag.Parse()

	cfg := config.Load()
	loc, err := utils.LoadLocation(cfg.TimeZone.Name, cfg.TimeZone.Offset)
	if err != nil {
		log.Fatalf("time zone: %v", err)
	}

	q := exportQuery{Galon: *galon, Limit: *limit}
	if *from != "" {
		t, err := utils.ParseTime(*from, loc)
		if err != nil {
			log.Fatalf("invalid -from: %v", err)
		}
		q.From = &t
	}
	if *to != "" {
		t, err := utils.ParseTime(*to, loc)
		if err != nil {
			log.Fatalf("invalid -to: %v", err)
		}
		q.To = &t
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN())
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	n, err := exportCSV(ctx, db, q, loc, w)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d readings.\n", n)
}
