package main

import (
	"os"

	"github.com/dkurien/fodpipe/internal/cli"
)

var version = "0.1.0"

func main() {
	r := cli.Runner{Version: version}
	os.Exit(r.Run(os.Args[1:]))
}
