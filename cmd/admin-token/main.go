package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-checkout/pkg/auth"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "admin-token"})

	subject := flag.String("sub", "", "operator identifier written to the token subject")
	role := flag.String("role", string(enums.OperatorRoleAdmin), "operator role (admin|support)")
	ttl := flag.Duration("ttl", 0, "override token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.LoadAdmin()
	if err != nil {
		logg.Error(context.Background(), "failed to load admin config", err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.TokenTTL = *ttl
	}

	parsedRole, err := enums.ParseOperatorRole(*role)
	if err != nil {
		logg.Error(context.Background(), "invalid role", err)
		os.Exit(2)
	}

	token, err := auth.MintOperatorToken(cfg, time.Now().UTC(), auth.OperatorTokenPayload{
		Subject: *subject,
		Role:    parsedRole,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to mint operator token", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
