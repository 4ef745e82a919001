package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenSimModule/internal/auth"
)

func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Generate credentials for the module API",
	}
	cmd.AddCommand(newHashPasswordCommand(rootOpts))
	cmd.AddCommand(newMachineTokenCommand(rootOpts))
	return cmd
}

type passwordHashResult struct {
	Hash string `json:"hash" yaml:"hash"`
}

func (r passwordHashResult) Text() string { return r.Hash }

func newHashPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an operator password for auth.operator_password_hash",
		Long:  "Hash --password, or the first line of standard input when the flag is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return WrapExitError(ExitCommandError, "failed to read password", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return NewExitError(ExitCommandError, "password must not be empty")
			}

			hash, err := auth.NewPasswordHasher().HashPassword(password)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to hash password", err)
			}
			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(passwordHashResult{Hash: hash})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password to hash")
	return cmd
}

type machineTokenResult struct {
	Token string `json:"token" yaml:"token"`
	Hash  string `json:"hash" yaml:"hash"`
}

func (r machineTokenResult) Text() string {
	return fmt.Sprintf("token: %s\nhash:  %s", r.Token, r.Hash)
}

func newMachineTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "machine-token",
		Short: "Generate a machine token and the hash for auth.machine_token_hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to generate token", err)
			}
			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(machineTokenResult{Token: token, Hash: hash})
		},
	}
}
