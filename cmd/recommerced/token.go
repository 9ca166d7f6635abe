package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recommerce"
	"recommerce/internal/auth"
)

func tokenCmd(flags *globalFlags) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the current-hour authorization token for a role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			secrets, err := auth.LoadSecrets(cfg.SecretsFile)
			if err != nil {
				return err
			}

			var secret string
			switch recommerce.Role(role) {
			case recommerce.RoleWebserver:
				secret = secrets.Webserver
			case recommerce.RoleDeveloper:
				secret = secrets.Developer
			default:
				return fmt.Errorf("unknown role %q (want %s or %s)", role, recommerce.RoleWebserver, recommerce.RoleDeveloper)
			}
			if secret == "" {
				return fmt.Errorf("no secret configured for role %s", role)
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.Token(secret, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(recommerce.RoleDeveloper), "Role to mint the token for (webserver|developer)")
	return cmd
}
