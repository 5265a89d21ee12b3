package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/rbac"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Wildcard grants a role's actions on every menu in the catalog
const Wildcard = "*"

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)

// Catalog is the seed data for menus, built-in roles and feature flags
type Catalog struct {
	Version              string            `yaml:"version"`
	PlatformOrganization *OrganizationSpec `yaml:"platform_organization"`
	Menus                []MenuSpec        `yaml:"menus"`
	Roles                []RoleSpec        `yaml:"roles"`
	Flags                []FlagSpec        `yaml:"flags"`
}

// OrganizationSpec describes the organization that hosts platform staff
type OrganizationSpec struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

// MenuSpec describes one menu. Parent refers to another menu by slug.
type MenuSpec struct {
	Slug      string       `yaml:"slug"`
	Name      string       `yaml:"name"`
	Section   rbac.Section `yaml:"section"`
	SortOrder int          `yaml:"sort_order"`
	Parent    string       `yaml:"parent"`
	Path      string       `yaml:"path"`
}

// RoleSpec describes a built-in role and the actions it holds per menu slug
type RoleSpec struct {
	Slug        string                   `yaml:"slug"`
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	Level       auth.Level               `yaml:"level"`
	Permissions map[string][]auth.Action `yaml:"permissions"`
}

// FlagSpec describes a feature flag definition
type FlagSpec struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	DefaultEnabled bool   `yaml:"default_enabled"`
}

// Default returns the catalog compiled into the binary
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads and validates a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks references between menus and roles and the value ranges
func (c *Catalog) Validate() error {
	var errs []error

	if org := c.PlatformOrganization; org != nil {
		if !slugPattern.MatchString(org.Slug) {
			errs = append(errs, fmt.Errorf("platform organization slug %q is invalid", org.Slug))
		}
		if org.Name == "" {
			errs = append(errs, errors.New("platform organization name is required"))
		}
	}

	menus := make(map[string]MenuSpec, len(c.Menus))
	for _, m := range c.Menus {
		if !slugPattern.MatchString(m.Slug) {
			errs = append(errs, fmt.Errorf("menu slug %q is invalid", m.Slug))
			continue
		}
		if _, dup := menus[m.Slug]; dup {
			errs = append(errs, fmt.Errorf("menu %q is defined twice", m.Slug))
			continue
		}
		switch m.Section {
		case rbac.SectionMain, rbac.SectionAdmin, rbac.SectionPlatformAdmin:
		default:
			errs = append(errs, fmt.Errorf("menu %q has unknown section %q", m.Slug, m.Section))
		}
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("menu %q has no name", m.Slug))
		}
		menus[m.Slug] = m
	}
	for _, m := range c.Menus {
		if m.Parent == "" {
			continue
		}
		if m.Parent == m.Slug {
			errs = append(errs, fmt.Errorf("menu %q cannot be its own parent", m.Slug))
		} else if _, ok := menus[m.Parent]; !ok {
			errs = append(errs, fmt.Errorf("menu %q has unknown parent %q", m.Slug, m.Parent))
		}
	}

	roles := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if !slugPattern.MatchString(r.Slug) {
			errs = append(errs, fmt.Errorf("role slug %q is invalid", r.Slug))
			continue
		}
		if roles[r.Slug] {
			errs = append(errs, fmt.Errorf("role %q is defined twice", r.Slug))
			continue
		}
		roles[r.Slug] = true
		if r.Level <= 0 || r.Level > auth.LevelSuperAdmin {
			errs = append(errs, fmt.Errorf("role %q level must be between 1 and %d", r.Slug, auth.LevelSuperAdmin))
		}
		for slug, actions := range r.Permissions {
			if slug != Wildcard {
				if _, ok := menus[slug]; !ok {
					errs = append(errs, fmt.Errorf("role %q grants unknown menu %q", r.Slug, slug))
					continue
				}
			}
			for _, a := range actions {
				if !a.Valid() {
					errs = append(errs, fmt.Errorf("role %q grants unknown action %q on %q", r.Slug, a, slug))
				}
			}
		}
		if !r.Level.IsPlatformAdmin() {
			for slug := range c.Grants(r) {
				if menus[slug].Section == rbac.SectionPlatformAdmin {
					errs = append(errs, fmt.Errorf("role %q is below platform admin level but is granted %q", r.Slug, slug))
				}
			}
		}
	}

	flags := make(map[string]bool, len(c.Flags))
	for _, f := range c.Flags {
		if f.Key == "" {
			errs = append(errs, errors.New("flag key is required"))
			continue
		}
		if flags[f.Key] {
			errs = append(errs, fmt.Errorf("flag %q is defined twice", f.Key))
		}
		flags[f.Key] = true
	}

	return errors.Join(errs...)
}

// Grants expands a role's permissions into one grant per menu. A wildcard
// entry applies to every menu and is merged with explicit entries.
func (c *Catalog) Grants(r RoleSpec) map[string]auth.Actions {
	grants := make(map[string]auth.Actions)
	for slug, actions := range r.Permissions {
		targets := []string{slug}
		if slug == Wildcard {
			targets = c.MenuSlugs()
		}
		for _, target := range targets {
			g := grants[target]
			for _, a := range actions {
				switch a {
				case auth.ActionCreate:
					g.Create = true
				case auth.ActionRead:
					g.Read = true
				case auth.ActionUpdate:
					g.Update = true
				case auth.ActionDelete:
					g.Delete = true
				}
			}
			grants[target] = g
		}
	}
	return grants
}

// MenuSlugs lists menu slugs in catalog order
func (c *Catalog) MenuSlugs() []string {
	slugs := make([]string, 0, len(c.Menus))
	for _, m := range c.Menus {
		slugs = append(slugs, m.Slug)
	}
	return slugs
}

// Role finds a role by slug
func (c *Catalog) Role(slug string) (RoleSpec, bool) {
	for _, r := range c.Roles {
		if r.Slug == slug {
			return r, true
		}
	}
	return RoleSpec{}, false
}

func sortedKeys(grants map[string]auth.Actions) []string {
	keys := make([]string, 0, len(grants))
	for k := range grants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
