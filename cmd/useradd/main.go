// Useradd creates a user without going through the api, e.g. to bootstrap an instance.
//
//	DATABASE=lectern.db useradd -username alice -password 'correct horse'
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/lectern/internal/auth"
	"github.com/jdholdren/lectern/internal/database"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/logger"
	"github.com/jdholdren/lectern/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`
	// Read from the environment when not passed as a flag, to keep it out of shell history
	Password string `env:"USERADD_PASSWORD"`
}

func main() {
	ctx := context.Background()

	var (
		username    = flag.String("username", "", "username to log in with")
		password    = flag.String("password", "", "password to log in with, defaults to $USERADD_PASSWORD")
		displayName = flag.String("display-name", "", "name shown in the client, defaults to the username")
		email       = flag.String("email", "", "email address")
	)
	flag.Parse()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	if *password == "" {
		*password = cfg.Password
	}
	if *username == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *displayName == "" {
		*displayName = *username
	}

	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewTextHandler(os.Stderr, nil))))

	usr, err := addUser(ctx, cfg.Database, lectern.User{
		Username:    *username,
		DisplayName: *displayName,
		Email:       *email,
	}, *password)
	if err != nil {
		slog.Error("error adding user", "error", err)
		os.Exit(1)
	}

	fmt.Printf("created user %q with id %d\n", usr.Username, usr.UserID)
}

func addUser(ctx context.Context, path string, usr lectern.User, password string) (lectern.User, error) {
	dbx, err := database.Open(ctx, path)
	if err != nil {
		return lectern.User{}, err
	}
	defer dbx.Close()

	usr.PasswordHash, err = auth.HashPassword(password)
	if err != nil {
		return lectern.User{}, err
	}

	return sqlite.New(dbx).InsertUser(ctx, usr)
}
