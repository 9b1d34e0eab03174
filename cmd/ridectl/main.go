// Command ridectl is the operator tool for campus-rides: schema
// migrations, community name checks and university lookups.
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
