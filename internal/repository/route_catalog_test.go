package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	"FareCast/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.RouteClasses = []config.RouteClassConfig{
		{Name: "trunk", BaselineFare: 2500},
		{Name: "regional", BaselineFare: 1800},
	}
	cfg.Routes = []config.RouteConfig{
		{ID: "MNL-DVO", Class: "trunk"},
		{ID: "MNL-CEB", Class: "trunk"},
		{ID: "CEB-TAG", Class: "regional"},
	}
	cfg.Sources = []config.SourceConfig{
		{ID: "scraper-a", PriceUnit: "major", DefaultCurrency: "PHP", Timezone: "Asia/Manila"},
		{ID: "scraper-b", Disabled: true, PriceUnit: "minor"},
	}
	return cfg
}

func TestConfigCatalog(t *testing.T) {
	c, err := NewConfigCatalog(testConfig())
	require.NoError(t, err)

	r, ok := c.Route("MNL-CEB")
	require.True(t, ok)
	assert.Equal(t, models.Route{ID: "MNL-CEB", Origin: "MNL", Destination: "CEB", Class: "trunk"}, r)

	_, ok = c.Route("CEB-MNL")
	assert.False(t, ok)

	assert.Equal(t, []string{"CEB-TAG", "MNL-CEB", "MNL-DVO"}, c.RouteIDs())
	assert.Len(t, c.RoutesInClass("trunk"), 2)

	rc, ok := c.Class("regional")
	require.True(t, ok)
	assert.Equal(t, 1800.0, rc.BaselineFare)

	s, ok := c.Schema("scraper-b")
	require.True(t, ok)
	assert.False(t, s.Active)
	assert.Equal(t, "minor", s.PriceUnit)
}

func TestConfigCatalogRejects(t *testing.T) {
	testData := map[string]struct {
		mutate func(cfg *config.Config)
		msg    string
	}{
		"unknown class": {
			mutate: func(cfg *config.Config) {
				cfg.Routes = append(cfg.Routes, config.RouteConfig{ID: "MNL-ILO", Class: "island"})
			},
			msg: `unknown class "island"`,
		},
		"route id without destination": {
			mutate: func(cfg *config.Config) {
				cfg.Routes = append(cfg.Routes, config.RouteConfig{ID: "MNL", Class: "trunk"})
			},
			msg: "ORIGIN-DESTINATION",
		},
		"class without baseline fare": {
			mutate: func(cfg *config.Config) {
				cfg.RouteClasses = append(cfg.RouteClasses, config.RouteClassConfig{Name: "island"})
			},
			msg: "baseline_fare must be positive",
		},
		"negative baseline fare": {
			mutate: func(cfg *config.Config) { cfg.RouteClasses[1].BaselineFare = -1 },
			msg:    "baseline_fare must be positive",
		},
		"class defined twice": {
			mutate: func(cfg *config.Config) {
				cfg.RouteClasses = append(cfg.RouteClasses, config.RouteClassConfig{Name: "trunk", BaselineFare: 900})
			},
			msg: "defined twice",
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			td.mutate(cfg)
			_, err := NewConfigCatalog(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), td.msg)
		})
	}
}

type capturedMessage struct {
	topic string
	key   string
	value interface{}
}

type captureProducer struct{ msgs []capturedMessage }

func (c *captureProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.msgs = append(c.msgs, capturedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func TestKafkaEventPublisherKeysByRoute(t *testing.T) {
	p := &captureProducer{}
	pub := NewKafkaEventPublisher(p, "farecast.models")

	ev := models.ModelEvent{ID: "e1", Type: models.EventActivated, RouteID: "MNL-CEB", VersionID: 3}
	require.NoError(t, pub.PublishModelEvent(context.Background(), ev))

	require.Len(t, p.msgs, 1)
	assert.Equal(t, "farecast.models", p.msgs[0].topic)
	assert.Equal(t, "MNL-CEB", p.msgs[0].key)
	assert.Equal(t, ev, p.msgs[0].value)
}
