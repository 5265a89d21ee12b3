package commands

import (
	"context"

	"github.com/platinummonkey/tenantry/pkg/migrations"
)

// MigrateCmd applies pending schema migrations
type MigrateCmd struct {
	DatabaseFlags
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	logger := c.logger().WithField("version", globals.Version)

	db, err := openDatabase(ctx, c.config(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.Run(ctx, db, logger)
	if err != nil {
		return err
	}
	logger.WithField("applied", applied).Info("migrations complete")
	return nil
}
