package cmd

import (
	"context"
	"fmt"

	"github.com/chatlens/chatlens/internal/config"
	"github.com/chatlens/chatlens/internal/store"
)

// openStore loads config, opens the conversation store and applies migrations.
func openStore(ctx context.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return db, cfg, nil
}
