package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		case "health":
			healthCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin db|metrics|health [flags]")
	os.Exit(2)
}
