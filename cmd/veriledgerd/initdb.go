package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/veriledger/veriledger/pkg/config"
)

// runInitDBCmd applies the storage schema and exits. Useful as a migration
// job that runs before the server rolls out.
func runInitDBCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init-db", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	st, err := openStore(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		fmt.Fprintf(stderr, "Error applying schema: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Schema applied (%s)\n", cfg.StorageDriver)
	return 0
}
