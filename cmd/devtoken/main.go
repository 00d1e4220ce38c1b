// Command devtoken prints an access token for calling the API locally.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"example.com/meal-planner/backend/internal/auth"
	"example.com/meal-planner/backend/internal/config"
)

func main() {
	userFlag := flag.String("user", "", "user id (uuid); a random one is used when empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	userID := uuid.New()
	if *userFlag != "" {
		userID, err = uuid.Parse(*userFlag)
		if err != nil {
			slog.Error("invalid user id", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	manager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	token, expiresAt, err := manager.NewAccessToken(userID)
	if err != nil {
		slog.Error("failed to issue token", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user %s, expires %s\n", userID, expiresAt.Format("2006-01-02 15:04:05"))
	fmt.Println(token)
}
