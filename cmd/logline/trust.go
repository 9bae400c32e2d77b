package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage the keys whose signatures the ledger accepts",
}

var trustScope string

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if c, ok, err := remote(); err != nil {
			return err
		} else if ok {
			keys, err := c.TrustKeys(ctx, trustScope)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), keys)
		}
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		entries := []trust.Entry{}
		for _, en := range e.registry.Entries() {
			if trustScope == "" || string(en.Scope) == trustScope {
				entries = append(entries, en)
			}
		}
		return writeJSON(cmd.OutOrStdout(), entries)
	},
}

var trustAddCmd = &cobra.Command{
	Use:   "add <public-key>",
	Short: "Trust a public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if c, ok, err := remote(); err != nil {
			return err
		} else if ok {
			k, err := c.AddTrustKey(ctx, args[0], trustScope)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), k)
		}
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.registry.AddEntry(trust.Entry{Key: args[0], Scope: trust.Scope(trustScope)}); err != nil {
			return err
		}
		en, _ := e.registry.Get(args[0])
		e.logger.Info("trust key added", zap.String("key", en.Key), zap.String("scope", string(en.Scope)))
		return writeJSON(cmd.OutOrStdout(), en)
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <public-key>",
	Short: "Stop trusting a public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if c, ok, err := remote(); err != nil {
			return err
		} else if ok {
			return c.RemoveTrustKey(ctx, args[0])
		}
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()
		return e.registry.Remove(args[0])
	},
}

var trustRetainOld bool

var trustRotateCmd = &cobra.Command{
	Use:   "rotate <new-public-key>",
	Short: "Make a key the local signer, demoting or removing the current one",
	Long: `rotate makes the given key the only local signer. Current local keys
become rotated (verify only) with --retain-old, which is the default, and are
removed otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if c, ok, err := remote(); err != nil {
			return err
		} else if ok {
			keys, err := c.RotateTrustKey(cmd.Context(), args[0], trustRetainOld)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), keys)
		}
		e, err := openEnv(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.registry.Rotate(args[0], trustRetainOld); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e.registry.Entries())
	},
}

func init() {
	trustCmd.PersistentFlags().StringVar(&trustScope, "scope", "", "key scope: local, rotated or federated")
	trustRotateCmd.Flags().BoolVar(&trustRetainOld, "retain-old", true, "keep current local keys as rotated")

	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustRemoveCmd)
	trustCmd.AddCommand(trustRotateCmd)
}
