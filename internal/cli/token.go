package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimhsiao/wishwell/backend/internal/crypto"
)

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the remote API token",
	}
	cmd.AddCommand(newTokenEncryptCommand(rootOpts))
	return cmd
}

func newTokenEncryptCommand(rootOpts *RootOptions) *cobra.Command {
	var machineID string

	cmd := &cobra.Command{
		Use:   "encrypt <token>",
		Short: "Encrypt a token for remote.token_encrypted",
		Long: `Encrypt a remote API token with a key derived from the machine id.

Put the output in remote.token_encrypted and the same id in remote.machine_id.

Example:
  wishwell token encrypt s3cr3t --machine-id $(cat /etc/machine-id)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			enc, err := crypto.EncryptToken(args[0], machineID)
			if err != nil {
				return out.fail(ExitCommandError, "encrypt token", err)
			}
			return out.Success(map[string]string{"token_encrypted": enc}, enc)
		},
	}
	cmd.Flags().StringVar(&machineID, "machine-id", "", "machine identifier the key is derived from")
	return cmd
}
