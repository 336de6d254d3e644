// Command cargohold-migrate applies the relational store's schema
// (idempotent — store.Open already calls it, this just triggers the
// connection without starting the server) and seeds the first admin
// account when the store has no users yet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cuemby/cargohold/pkg/config"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to a cargohold.toml config file")
	adminLogin := flag.String("admin-login", "admin", "Login for the seeded admin account")
	adminPassword := flag.String("admin-password", "", "Password for the seeded admin account (generated if empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(cfg.Registry.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating data directory: %v\n", err)
		os.Exit(1)
	}

	driver, dsn := "sqlite", "file:"+cfg.SQLitePath()+"?cache=shared"
	if cfg.Postgres.Enabled {
		driver = "pgx"
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.Postgres.User, cfg.Postgres.Pwd, cfg.Postgres.Address, cfg.Postgres.Port, cfg.Postgres.DB)
	}

	st, err := store.Open(driver, dsn, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store (schema applied as a side effect): %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Println("schema up to date")

	ctx := context.Background()
	noUsers, err := st.NoUserExists(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checking for existing users: %v\n", err)
		os.Exit(1)
	}
	if !noUsers {
		fmt.Println("at least one user already exists, skipping admin seed")
		return
	}

	password := *adminPassword
	if password == "" {
		generated, _, err := security.GenerateAPIToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generating admin password: %v\n", err)
			os.Exit(1)
		}
		password = generated
	}
	passwordHash, err := security.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashing admin password: %v\n", err)
		os.Exit(1)
	}

	if err := st.CreateUser(ctx, types.User{Login: *adminLogin, Name: "Administrator", PasswordHash: passwordHash, IsAdmin: true}); err != nil {
		fmt.Fprintf(os.Stderr, "creating admin user: %v\n", err)
		os.Exit(1)
	}
	user, err := st.GetUserByLogin(ctx, *adminLogin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading seeded admin user: %v\n", err)
		os.Exit(1)
	}

	tokenSecret, tokenHash, err := security.GenerateAPIToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating admin token: %v\n", err)
		os.Exit(1)
	}
	if err := st.CreateToken(ctx, types.Token{
		UserID: user.ID,
		Name:   "bootstrap",
		Kind:   types.TokenKindAPI,
		Hash:   tokenHash,
		Prefix: tokenSecret[:8],
	}); err != nil {
		fmt.Fprintf(os.Stderr, "creating admin token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("admin account created")
	fmt.Printf("  login:    %s\n", *adminLogin)
	if *adminPassword == "" {
		fmt.Printf("  password: %s (save this, it is not stored anywhere recoverable)\n", password)
	}
	fmt.Printf("  token:    %s (save this, it is not stored anywhere recoverable)\n", tokenSecret)
}
