// Command seed provisions a development user, an upstream credential, and a
// proxy credential against an already-migrated database. It is idempotent on
// the username: if the seed user already exists it logs and exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/duskrelay/chatproxy/internal/config"
	"github.com/duskrelay/chatproxy/internal/platform"
	"github.com/duskrelay/chatproxy/internal/telemetry"
	"github.com/duskrelay/chatproxy/pkg/cipher"
	"github.com/duskrelay/chatproxy/pkg/keypool"
	"github.com/duskrelay/chatproxy/pkg/proxycred"
	"github.com/duskrelay/chatproxy/pkg/user"
)

const (
	seedUsername = "dev-seed"
	seedEmail    = "dev-seed@example.com"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	userStore := user.NewStore(db)
	credStore := proxycred.NewStore(db)
	upstreamStore := keypool.NewStore(db)

	var existing bool
	row := db.QueryRow(ctx, `SELECT true FROM users WHERE username = $1`, seedUsername)
	if scanErr := row.Scan(&existing); scanErr == nil {
		logger.Info("seed: user already exists, skipping", "username", seedUsername)
		return nil
	}

	u, err := userStore.Create(ctx, seedUsername, seedEmail, cfg.DefaultMonthlyQuotaTokens, 0)
	if err != nil {
		return fmt.Errorf("creating seed user: %w", err)
	}
	logger.Info("seed: created user", "user_id", u.ID, "username", u.Username)

	keyCipher, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing key cipher: %w", err)
	}

	sealedKey, err := keyCipher.Seal([]byte("sk-dev-seed-replace-me"))
	if err != nil {
		return fmt.Errorf("sealing seed upstream key: %w", err)
	}

	upstreamID, err := upstreamStore.Create(ctx, keypool.Credential{
		Type:      keypool.TypeNative,
		SealedKey: sealedKey,
		Weight:    1,
		Notes:     "development seed credential",
	})
	if err != nil {
		return fmt.Errorf("creating seed upstream credential: %w", err)
	}
	logger.Info("seed: created upstream credential", "id", upstreamID)

	cred, err := credStore.Create(ctx, u.ID, "development seed credential", nil, nil, nil)
	if err != nil {
		return fmt.Errorf("creating seed proxy credential: %w", err)
	}

	logger.Info("seed: completed successfully",
		"username", u.Username,
		"proxy_credential", cred.Key,
	)
	return nil
}
