package cmd

import (
	"fmt"
	"os"

	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/spf13/cobra"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ES256 signing key",
	Long: `Generates a P-256 private key in PEM form for signing access and ID
tokens. Point OAUTH_SIGNING_KEY_FILE at the written file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := token.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		keys, err := token.NewKeySet(key)
		if err != nil {
			return err
		}
		pemBytes, err := token.EncodePrivateKeyPEM(key)
		if err != nil {
			return err
		}

		if keygenOut == "" {
			_, err = cmd.OutOrStdout().Write(pemBytes)
			return err
		}
		if err := os.WriteFile(keygenOut, pemBytes, 0o600); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote signing key %s (kid %s)\n", keygenOut, keys.KeyID())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "File to write the PEM key to (default stdout)")
}
