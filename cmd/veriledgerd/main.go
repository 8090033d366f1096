package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/veriledger/veriledger/pkg/config"
)

const version = "v1.0.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServeCmd

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(args[2:], stdout, stderr)
	case "init-db":
		return runInitDBCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "veriledgerd %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sVeriLedger %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sEvery change to an asset, signed and chained.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  veriledgerd <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVICE")
	printCommand(w, "serve", "Run the ledger API server (default)")
	printCommand(w, "init-db", "Apply the storage schema and exit")
	printCommand(w, "health", "Check a running server over HTTP")

	printSection(w, "LEDGER")
	printCommand(w, "verify", "Re-verify an asset's chain from storage")
	printCommand(w, "keygen", "Generate an Ed25519 signing keypair")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg := config.Load()

	resp, err := http.Get("http://localhost:" + cfg.Port + "/healthz")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
