package main

import (
	"fmt"
	"strconv"

	"ctxbot-go/internal/repository"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/database"
	"ctxbot-go/pkg/token"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Manage chat history",
	}
	historyCmd.AddCommand(&cobra.Command{
		Use:     "clear <chatID>",
		Short:   "Delete every stored message of one chat",
		// 群聊 ID 为负数，需要用 -- 与 flag 区分
		Example: "  ctxbot history clear -- -1001234567890",
		Args:    cobra.ExactArgs(1),
		RunE:    runHistoryClear,
	})

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin access token",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}

	hashCmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to use as admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	rootCmd.AddCommand(historyCmd, tokenCmd, hashCmd)
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", args[0], err)
	}
	cfg := loadCLIConfig()
	database.InitDB(cfg.Database.Driver, cfg.Database.DSN)

	if err := repository.NewMessageRepository(database.DB).ClearHistory(cmd.Context(), chatID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared chat %d\n", chatID)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg := loadCLIConfig()
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is not configured")
	}
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	accessToken, err := jwtManager.GenerateToken(cfg.Admin.Username, service.AdminRole)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), accessToken)
	return nil
}
