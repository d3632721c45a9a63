package repository

import (
	"fmt"
	"sort"
	"strings"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/pkg/config"
)

// ConfigCatalog serves routes, route classes and source schemas from
// configuration. Immutable after construction.
type ConfigCatalog struct {
	routes  map[string]models.Route
	ordered []models.Route
	classes map[string]models.RouteClass
	sources map[string]models.SourceSchema
}

var (
	_ domrepo.RouteCatalog   = (*ConfigCatalog)(nil)
	_ domrepo.SourceRegistry = (*ConfigCatalog)(nil)
)

func NewConfigCatalog(cfg *config.Config) (*ConfigCatalog, error) {
	c := &ConfigCatalog{
		routes:  make(map[string]models.Route, len(cfg.Routes)),
		classes: make(map[string]models.RouteClass, len(cfg.RouteClasses)),
		sources: make(map[string]models.SourceSchema, len(cfg.Sources)),
	}
	for _, rc := range cfg.RouteClasses {
		if _, dup := c.classes[rc.Name]; dup {
			return nil, fmt.Errorf("route class %q: defined twice", rc.Name)
		}
		if !(rc.BaselineFare > 0) {
			return nil, fmt.Errorf("route class %q: baseline_fare must be positive", rc.Name)
		}
		c.classes[rc.Name] = models.RouteClass{Name: rc.Name, BaselineFare: rc.BaselineFare}
	}
	for _, r := range cfg.Routes {
		origin, dest, ok := strings.Cut(r.ID, "-")
		if !ok {
			return nil, fmt.Errorf("route %q: want ORIGIN-DESTINATION", r.ID)
		}
		if _, ok := c.classes[r.Class]; !ok {
			return nil, fmt.Errorf("route %q: unknown class %q", r.ID, r.Class)
		}
		route := models.Route{ID: r.ID, Origin: origin, Destination: dest, Class: r.Class}
		c.routes[r.ID] = route
		c.ordered = append(c.ordered, route)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })

	for _, s := range cfg.Sources {
		c.sources[s.ID] = models.SourceSchema{
			ID:              s.ID,
			Active:          !s.Disabled,
			Fields:          s.Fields,
			TimeLayouts:     s.TimeLayouts,
			Timezone:        s.Timezone,
			PriceUnit:       s.PriceUnit,
			DefaultCurrency: s.DefaultCurrency,
		}
	}
	return c, nil
}

func (c *ConfigCatalog) Route(id string) (models.Route, bool) {
	r, ok := c.routes[id]
	return r, ok
}

func (c *ConfigCatalog) Routes() []models.Route {
	return append([]models.Route(nil), c.ordered...)
}

func (c *ConfigCatalog) RoutesInClass(class string) []models.Route {
	var out []models.Route
	for _, r := range c.ordered {
		if r.Class == class {
			out = append(out, r)
		}
	}
	return out
}

func (c *ConfigCatalog) Class(name string) (models.RouteClass, bool) {
	rc, ok := c.classes[name]
	return rc, ok
}

func (c *ConfigCatalog) Schema(sourceID string) (models.SourceSchema, bool) {
	s, ok := c.sources[sourceID]
	return s, ok
}

// RouteIDs lists the configured route ids in order.
func (c *ConfigCatalog) RouteIDs() []string {
	out := make([]string, len(c.ordered))
	for i, r := range c.ordered {
		out[i] = r.ID
	}
	return out
}
