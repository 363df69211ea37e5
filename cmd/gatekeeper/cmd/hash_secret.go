package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/gatekeeper/internal/auth/password"
	"github.com/spf13/cobra"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Hash a client secret or password",
	Long:  `Prints the argon2id hash of the given secret, read from stdin when no argument is passed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := ""
		if len(args) == 1 {
			secret = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			secret = strings.TrimRight(line, "\r\n")
		}
		if secret == "" {
			return errors.New("secret is required")
		}

		hashed, err := password.Hash(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}
