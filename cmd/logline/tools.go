package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/logline/internal/api"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/canonical"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCmd = &cobra.Command{
	Use:   "hash [file]",
	Short: "Print the canonical form and content hash of an atomic",
	Long: `hash reads one atomic and prints the exact canonical bytes that are
hashed, followed by the BLAKE3 content hash. curr_hash and signature in the
input are ignored. Nothing is stored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHash,
}

type hashOutput struct {
	Canonical string `json:"canonical"`
	Hash      string `json:"hash"`
	Matches   *bool  `json:"matches_curr_hash,omitempty"`
}

func runHash(cmd *cobra.Command, args []string) error {
	data, err := readAll(args)
	if err != nil {
		return err
	}
	a, err := atomic.Parse(data)
	if err != nil {
		return err
	}
	canon, err := canonical.Canonicalize(a.ToValue(false))
	if err != nil {
		return err
	}
	h, err := atomic.Hash(a)
	if err != nil {
		return err
	}
	out := hashOutput{Canonical: canon, Hash: h}
	if a.CurrHash != "" {
		ok := a.CurrHash == h
		out.Matches = &ok
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the node signing key",
	Long: `keygen creates an Ed25519 keypair in --dir (default signing.key_dir) and
trusts its public key as the local signer. An existing key is left in place
and its public key printed.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenDir, "dir", "", "key directory (overrides signing.key_dir)")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer e.close()
	if keygenDir != "" {
		e.cfg.Signing.KeyDir = keygenDir
	}
	kp, err := e.signer()
	if err != nil {
		return err
	}
	entry, _ := e.registry.Get(kp.PublicKeyHex())
	return writeJSON(cmd.OutOrStdout(), map[string]string{
		"public_key": kp.PublicKeyHex(),
		"algorithm":  signature.Algorithm,
		"key_dir":    e.cfg.Signing.KeyDir,
		"scope":      string(entry.Scope),
	})
}

// ── apikey ───────────────────────────────────────────────────────────────────

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key helpers",
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print a bcrypt hash for server.api_key_hash",
	Long: `hash prints the bcrypt hash of the given key. With no key it generates a
random one and prints both. Store only the hash in server.api_key_hash.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			buf := make([]byte, 24)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key = hex.EncodeToString(buf)
		}
		h, err := api.HashAPIKey(key)
		if err != nil {
			return err
		}
		out := map[string]string{"api_key_hash": h}
		if len(args) == 0 {
			out["api_key"] = key
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	apikeyCmd.AddCommand(apikeyHashCmd)
}
