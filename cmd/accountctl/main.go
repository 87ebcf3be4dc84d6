package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"genproxy/internal/adapter/repo"
	"genproxy/internal/domain"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "accountctl",
		Short: "Manage provider accounts and API clients",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	root.AddCommand(accountAddCmd(), accountListCmd(), accountEnableCmd(), accountDisableCmd())
	root.AddCommand(clientAddCmd(), clientListCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool)
}

func accountAddCmd() *cobra.Command {
	var label string
	var sessionToken string
	var credentialsFile string

	command := &cobra.Command{
		Use:   "add",
		Short: "Register a provider account from its session credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			var credentials []byte
			switch {
			case credentialsFile != "":
				data, err := os.ReadFile(credentialsFile)
				if err != nil {
					return fmt.Errorf("read credentials file: %w", err)
				}
				if !json.Valid(data) {
					return fmt.Errorf("credentials file is not valid JSON")
				}
				credentials = data
			case sessionToken != "":
				credentials, _ = json.Marshal(map[string]string{"session_token": sessionToken})
			default:
				return fmt.Errorf("either --token or --credentials is required")
			}

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				account := &domain.Account{
					ID:          uuid.NewString(),
					Label:       label,
					Credentials: credentials,
					State:       domain.AccountStateActive,
				}
				if err := repo.NewAccountRepository(pool).Create(ctx, account); err != nil {
					return fmt.Errorf("create account: %w", err)
				}
				fmt.Printf("account %s created\n", account.ID)
				return nil
			})
		},
	}

	command.Flags().StringVar(&label, "label", "", "human-readable account label")
	command.Flags().StringVar(&sessionToken, "token", "", "provider session token")
	command.Flags().StringVar(&credentialsFile, "credentials", "", "path to a credentials JSON file")
	return command
}

func accountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provider accounts and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				accounts, err := repo.NewAccountRepository(pool).List(ctx)
				if err != nil {
					return fmt.Errorf("list accounts: %w", err)
				}
				for _, a := range accounts {
					lastUsed := "never"
					if !a.LastUsedAt.IsZero() {
						lastUsed = a.LastUsedAt.Format(time.RFC3339)
					}
					fmt.Printf("%s\t%s\t%s\tfailures=%d\tlast_used=%s\n",
						a.ID, a.Label, a.State, a.ConsecutiveFailures, lastUsed)
				}
				return nil
			})
		},
	}
}

func accountEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <account-id>",
		Short: "Mark an account active after replacing its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := repo.NewAccountRepository(pool).SetActive(ctx, args[0], true); err != nil {
					return fmt.Errorf("enable account: %w", err)
				}
				fmt.Printf("account %s enabled\n", args[0])
				return nil
			})
		},
	}
}

func accountDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <account-id>",
		Short: "Mark an account invalid so the scheduler stops leasing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := repo.NewAccountRepository(pool).SetActive(ctx, args[0], false); err != nil {
					return fmt.Errorf("disable account: %w", err)
				}
				fmt.Printf("account %s disabled\n", args[0])
				return nil
			})
		},
	}
}

func clientAddCmd() *cobra.Command {
	var username string
	var webhookURL string

	command := &cobra.Command{
		Use:   "client-add",
		Short: "Register an API client and print its bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(username) == "" {
				return fmt.Errorf("--username is required")
			}
			token, err := newToken()
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				client := &domain.Client{
					ID:         uuid.NewString(),
					Username:   username,
					Token:      token,
					WebhookURL: webhookURL,
					IsActive:   true,
				}
				if err := repo.NewClientRepository(pool).Create(ctx, client); err != nil {
					return fmt.Errorf("create client: %w", err)
				}
				fmt.Printf("client %s created\ntoken: %s\n", client.ID, token)
				return nil
			})
		},
	}

	command.Flags().StringVar(&username, "username", "", "client username")
	command.Flags().StringVar(&webhookURL, "webhook-url", "", "default webhook URL for task results")
	return command
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client-list",
		Short: "List registered API clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				clients, err := repo.NewClientRepository(pool).List(ctx)
				if err != nil {
					return fmt.Errorf("list clients: %w", err)
				}
				for _, c := range clients {
					fmt.Printf("%s\t%s\tactive=%t\twebhook=%s\n", c.ID, c.Username, c.IsActive, c.WebhookURL)
				}
				return nil
			})
		},
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
