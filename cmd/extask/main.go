// Command extask runs an external task worker or an embedded coordinator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/petrijr/extask/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
