package main

import (
	"fmt"
	"os"
)

// zklogin - proving service and circuit tooling for zkLogin
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
