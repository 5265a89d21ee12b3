/*
Package catalog holds the seed data every deployment starts from: the menu
tree, the built-in roles with their per-menu grants, the feature flag
definitions and the platform organization.

The default catalog is compiled into the binary from catalog.yaml. Load
accepts an alternative file with the same layout:

	c, err := catalog.Default()
	if err != nil {
		return err
	}
	result, err := catalog.NewSeeder(db, logger).Seed(ctx, c)

A permissions key of "*" grants the listed actions on every menu. Only roles
at or above the platform admin level may hold grants on PLATFORM_ADMIN menus.
*/
package catalog
