package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pharmacie: %s\n", describe(err))
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// describe appends the server's own explanation to fetch failures.
func describe(err error) string {
	var fe *pharmacie.FetchError
	if errors.As(err, &fe) {
		if detail := fe.Detail(); detail != "" {
			return fmt.Sprintf("%v: %s", err, detail)
		}
	}
	return err.Error()
}
