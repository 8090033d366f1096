package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/veriledger/veriledger/pkg/crypto"
)

// runKeygenCmd generates an Ed25519 keypair. The seed goes to SIGNING_SEED
// on the server; the public key goes to verifiers and the auth issuer.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	seedB64, publicB64, err := crypto.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(stderr, "keygen failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"signing_seed": seedB64,
			"public_key":   publicB64,
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "SIGNING_SEED=%s\n", seedB64)
	fmt.Fprintf(stdout, "PUBLIC_KEY=%s\n", publicB64)
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Keep the seed secret. Distribute only the public key.")
	return 0
}
