package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			signed, err := issueToken(
				repository.NewUserRepository(db),
				token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours),
				username,
			)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "User to issue the token for (required)")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func issueToken(userRepo repository.UserRepository, jwtManager *token.JWTManager, username string) (string, error) {
	user, err := userRepo.FindByUsername(username)
	if err != nil {
		return "", fmt.Errorf("looking up user %q: %w", username, err)
	}
	return jwtManager.GenerateToken(user.ID, user.Username, user.Role)
}
