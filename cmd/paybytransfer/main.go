package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wakala/paybytransfer/internal/banks"
	"github.com/wakala/paybytransfer/internal/provider"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "paybytransfer",
		Short:   "Pay-by-transfer session and reconciliation service",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(banksCmd())
	rootCmd.AddCommand(signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func banksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "banks [name]",
		Short: "List Nigerian bank codes or resolve one bank name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				code := banks.Resolve(args[0])
				if code == banks.UnknownCode {
					return fmt.Errorf("unknown bank: %s", args[0])
				}
				fmt.Fprintf(out, "%s\t%s\n", code, args[0])
				return nil
			}
			for _, b := range banks.All() {
				fmt.Fprintf(out, "%s\t%s\n", b.Code, b.Name)
			}
			return nil
		},
	}
}

// signCmd computes the webhook signature header for a payload, for replaying
// deliveries against a running server.
func signCmd() *cobra.Command {
	var (
		secret string
		digest string
	)
	cmd := &cobra.Command{
		Use:   "sign [payload-file]",
		Short: "Compute the HMAC webhook signature for a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
			if !json.Valid(payload) {
				return fmt.Errorf("%s is not valid JSON", args[0])
			}
			d := provider.Digest(digest)
			if d != provider.SHA256 && d != provider.SHA512 {
				return fmt.Errorf("unknown digest %q (want sha256 or sha512)", digest)
			}
			fmt.Fprintln(cmd.OutOrStdout(), provider.Sign(payload, secret, d))
			return nil
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "webhook secret")
	cmd.Flags().StringVarP(&digest, "digest", "d", string(provider.SHA512), "hash function (sha256, sha512)")
	cmd.MarkFlagRequired("secret")

	return cmd
}
