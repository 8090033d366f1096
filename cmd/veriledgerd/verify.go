package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/veriledger/veriledger/pkg/config"
	"github.com/veriledger/veriledger/pkg/crypto"
	"github.com/veriledger/veriledger/pkg/verify"
)

// runVerifyCmd re-walks a stored asset chain and re-checks version
// contiguity, hash linkage, canonical hashes, and signatures.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID   string
		assetID    string
		publicKey  string
		jsonOutput bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant that owns the asset (REQUIRED)")
	cmd.StringVar(&assetID, "asset", "", "Asset ID to verify (REQUIRED)")
	cmd.StringVar(&publicKey, "public-key", "", "Base64 ledger public key (default: derived from SIGNING_SEED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || assetID == "" {
		fmt.Fprintln(stderr, "Error: --tenant and --asset are required")
		cmd.Usage()
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	pub, err := resolvePublicKey(cfg, publicKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	st, err := openStore(ctx, cfg, newLogger("ERROR"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()

	count, err := verify.Asset(ctx, st, pub, tenantID, assetID)
	if err != nil {
		if jsonOutput {
			result := map[string]any{
				"tenant_id": tenantID,
				"asset_id":  assetID,
				"valid":     false,
				"error":     err.Error(),
			}
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(stdout, string(data))
		} else {
			fmt.Fprintf(stderr, "Verification failed: %v\n", err)
		}
		return 1
	}

	if jsonOutput {
		result := map[string]any{
			"tenant_id": tenantID,
			"asset_id":  assetID,
			"valid":     true,
			"events":    count,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Chain verified: %d events\n", count)
	}
	return 0
}

// resolvePublicKey picks the verification key: the flag wins, then
// SIGNING_SEED, then the persisted public key file from lite mode.
func resolvePublicKey(cfg *config.Config, flagValue string) (ed25519.PublicKey, error) {
	if flagValue != "" {
		return crypto.LoadPublicKey(flagValue)
	}
	if cfg.SigningSeed != "" {
		signer, err := crypto.NewSignerFromSeed(cfg.SigningSeed)
		if err != nil {
			return nil, fmt.Errorf("SIGNING_SEED: %w", err)
		}
		return signer.Public(), nil
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "signing.pub")); err == nil {
		return crypto.LoadPublicKey(strings.TrimSpace(string(data)))
	}
	return nil, fmt.Errorf("provide --public-key or set SIGNING_SEED")
}
