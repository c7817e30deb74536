// Package main is the entry point for the rxprobe receive-path latency probe.
package main

import (
	"os"

	"firestige.xyz/rxprobe/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
