package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/mitrdesk/mitr/internal/config"
	"github.com/mitrdesk/mitr/internal/store"
)

// UserCommand returns the user management command.
func UserCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage dashboard agent accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an agent account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "role", Value: "agent", Usage: "agent or admin"},
				},
				Action: runUserCreate,
			},
		},
	}
}

func runUserCreate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("user accounts need a database; set database.url in the config")
	}

	ctx := context.Background()
	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(c.String("password")), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(c.String("email")),
		PasswordHash: string(hash),
		Name:         c.String("name"),
		Role:         c.String("role"),
		CreatedAt:    time.Now().UTC(),
	}
	if err := pg.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created %s account for %s\n", user.Role, user.Email)
	return nil
}
