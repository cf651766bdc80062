package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/spf13/cobra"
)

// newTokenCmd mints an HS256 bearer token for local testing against JWT_SECRET.
func newTokenCmd() *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := config.RequiredString("JWT_SECRET")
			if err != nil {
				return err
			}
			switch role {
			case "provider", "requester", "admin":
			default:
				return errors.New("--role must be provider, requester or admin")
			}
			if sub == "" {
				return errors.New("--sub is required")
			}
			now := time.Now()
			token, err := auth.SignHS256(auth.Claims{Sub: sub, Role: role, Iat: now.Unix(), Exp: now.Add(ttl).Unix()}, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&sub, "sub", "", "participant id")
	c.Flags().StringVar(&role, "role", "requester", "provider, requester or admin")
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return c
}
