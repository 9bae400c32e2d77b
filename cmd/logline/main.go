// Command logline runs and operates a verifiable append-only ledger of atomics.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	serverURL string
	apiKey    string
	debug     bool
	format    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logline",
	Short: "Verifiable append-only ledger of atomics",
	Long: `logline records atomics (actor/action/context facts) in an append-only
ledger. Every atomic is canonicalized, hashed with BLAKE3 and optionally
signed with Ed25519, so anyone holding the ledger can verify it.

Commands work against the locally configured storage backend, or against a
running server when --server is given.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/logline.yaml or ./logline.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "logline server URL; commands run against local storage when empty")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("LOGLINE_API_KEY"), "API key sent to --server")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")
	rootCmd.PersistentFlags().StringVar(&format, "format", "json", "output format: json or table")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. CLI commands log at warn and above
// unless --debug is set, so their stdout stays machine-readable.
func newLogger(quiet bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if quiet {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the logline version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("logline %s\n", version)
	},
}
