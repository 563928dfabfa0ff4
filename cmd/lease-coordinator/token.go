package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rentloop/lease-coordinator/internal/auth"
	"github.com/rentloop/lease-coordinator/internal/config"
)

var (
	tokenUser  string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("jwt secret is not configured")
		}

		userID, err := uuid.Parse(tokenUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}

		token, err := auth.NewJWTManager(cfg.JWT.Secret).GenerateToken(userID, tokenAdmin, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID to issue the token for")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Include the admin claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("user")
}
