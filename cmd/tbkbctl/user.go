package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
)

type userOptions struct {
	username string
	email    string
	admin    bool
	onDuty   bool
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage submitters and reviewers",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var opts userOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account. Administrators review submitted packages;
administrators marked --on-duty are notified about new submissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			user, err := createUser(repository.NewUserRepository(db), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id=%d, role=%s)\n", user.Username, user.ID, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "Email address used for notifications")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "Grant the administrator role")
	cmd.Flags().BoolVar(&opts.onDuty, "on-duty", false, "Notify this administrator about new submissions")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

// createUser 创建用户，用户名已存在时返回错误。
func createUser(userRepo repository.UserRepository, opts userOptions) (*model.User, error) {
	if opts.onDuty && !opts.admin {
		return nil, errors.New("--on-duty requires --admin")
	}
	if _, err := userRepo.FindByUsername(opts.username); err == nil {
		return nil, fmt.Errorf("user %q already exists", opts.username)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user := &model.User{
		Username: opts.username,
		Email:    opts.email,
		Role:     model.RoleUser,
		OnDuty:   opts.onDuty,
	}
	if opts.admin {
		user.Role = model.RoleAdmin
	}
	if err := userRepo.Create(user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}
