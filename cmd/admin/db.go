package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/bridge/index.sqlite", "sqlite index path")
	handle := fs.String("handle", "", "session handle (ticks)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fatal("open", err)
	}
	defer db.Close()

	switch q {
	case "sessions":
		rows, err := db.Query(`SELECT handle,name,host,port,state,ticks,opened_at,COALESCE(closed_at,''),COALESCE(last_error,'') FROM sessions ORDER BY opened_at DESC LIMIT ?`, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Handle    string `json:"handle"`
				Name      string `json:"name"`
				Host      string `json:"host"`
				Port      int    `json:"port"`
				State     string `json:"state"`
				Ticks     int64  `json:"ticks"`
				OpenedAt  string `json:"opened_at"`
				ClosedAt  string `json:"closed_at,omitempty"`
				LastError string `json:"last_error,omitempty"`
			}
			if err := rows.Scan(&r.Handle, &r.Name, &r.Host, &r.Port, &r.State, &r.Ticks, &r.OpenedAt, &r.ClosedAt, &r.LastError); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "ticks":
		if *handle == "" {
			fmt.Fprintln(os.Stderr, "missing -handle")
			os.Exit(2)
		}
		rows, err := db.Query(`SELECT tick,server_tick,actions,x,y,z,health,food FROM ticks WHERE handle=? ORDER BY tick DESC LIMIT ?`, *handle, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       uint64  `json:"tick"`
				ServerTick uint64  `json:"server_tick"`
				Actions    string  `json:"actions"`
				X          float64 `json:"x"`
				Y          float64 `json:"y"`
				Z          float64 `json:"z"`
				Health     float64 `json:"health"`
				Food       float64 `json:"food"`
			}
			if err := rows.Scan(&r.Tick, &r.ServerTick, &r.Actions, &r.X, &r.Y, &r.Z, &r.Health, &r.Food); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "arena":
		rows, err := db.Query(`SELECT tick,digest,joins,leaves,actions FROM arena_ticks ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    uint64 `json:"tick"`
				Digest  string `json:"digest"`
				Joins   int    `json:"joins"`
				Leaves  int    `json:"leaves"`
				Actions int    `json:"actions"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Actions); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				fatal("scan", err)
			}
			fmt.Printf("%s=%s\n", k, v)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(sessions|ticks|arena|meta)")
		os.Exit(2)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
