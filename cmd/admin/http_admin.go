package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func metricsCmd(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:25565", "arena base url")
	_ = fs.Parse(args)
	get(strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/metrics")
}

func healthCmd(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8090", "arena or mcp base url")
	_ = fs.Parse(args)
	get(strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/healthz")
}

func get(u string) {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimRight(string(b), "\n"))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
