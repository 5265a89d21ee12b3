package commands

import (
	"context"

	"github.com/platinummonkey/tenantry/pkg/catalog"
	"github.com/platinummonkey/tenantry/pkg/migrations"
)

// SeedCmd writes the seed catalog
type SeedCmd struct {
	DatabaseFlags
	Catalog string `help:"Catalog file to apply instead of the built-in one." type:"existingfile"`
	Migrate bool   `help:"Apply pending migrations first."`
}

func (c *SeedCmd) Run(ctx context.Context, globals *Globals) error {
	logger := c.logger().WithField("version", globals.Version)

	cat, err := loadCatalog(c.Catalog)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, c.config(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Migrate {
		if _, err := migrations.Run(ctx, db, logger); err != nil {
			return err
		}
	}

	_, err = catalog.NewSeeder(db, logger).Seed(ctx, cat)
	return err
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
