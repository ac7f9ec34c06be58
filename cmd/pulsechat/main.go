// Command pulsechat runs the PulseChat backend: API route groups, the
// presence socket and, in production, the compiled frontend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
