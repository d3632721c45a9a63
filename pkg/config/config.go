package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var routeIDPattern = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors"`
		AdminRPS        float64       `yaml:"admin_rps" default:"2"`
	} `yaml:"server"`
	Logging struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Topic     string        `yaml:"topic" default:"farecast.logs"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		IngestTopic  string   `yaml:"ingest_topic" default:"farecast.fares.raw"`
		ModelsTopic  string   `yaml:"models_topic" default:"farecast.models"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"farecast-ingest"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"farecast.fares.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"farecast"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"farecast"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Queue    struct {
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		} `yaml:"queue"`
	} `yaml:"redis"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxRPS         int           `yaml:"max_rps" default:"20"`
		BufferSize     int           `yaml:"buffer_size" default:"1000"`
	} `yaml:"feed"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Currency struct {
		Base            string            `yaml:"base" default:"PHP" validate:"len=3"`
		Rates           map[string]string `yaml:"rates"`
		RatesURL        string            `yaml:"rates_url"`
		RefreshInterval time.Duration     `yaml:"refresh_interval" default:"6h"`
	} `yaml:"currency"`
	RouteClasses []RouteClassConfig `yaml:"route_classes" validate:"required,min=1,dive"`
	Routes       []RouteConfig      `yaml:"routes" validate:"required,min=1,dive"`
	Sources      []SourceConfig     `yaml:"sources" validate:"required,min=1,dive"`
}

// PipelineConfig tunes the forecasting pipeline.
type PipelineConfig struct {
	Series struct {
		Retention time.Duration `yaml:"retention" default:"4320h"`
	} `yaml:"series"`
	Staleness struct {
		MaxAge          time.Duration `yaml:"max_age" default:"24h"`
		VolumeThreshold int           `yaml:"volume_threshold" default:"50"`
		ErrorThreshold  float64       `yaml:"error_threshold" default:"0.25"`
		ErrorWindow     int           `yaml:"error_window" default:"50"`
		ErrorMinSamples int           `yaml:"error_min_samples" default:"10"`
		Priority        []string      `yaml:"priority" default:"[\"age\",\"volume\",\"error_drift\"]"`
	} `yaml:"staleness"`
	Trainer struct {
		MinObservations     int           `yaml:"min_observations" default:"30"`
		MinSpan             time.Duration `yaml:"min_span" default:"336h"`
		Lookback            time.Duration `yaml:"lookback" default:"4320h"`
		HoldoutFraction     float64       `yaml:"holdout_fraction" default:"0.2" validate:"gt=0,lt=1"`
		MinHoldout          int           `yaml:"min_holdout" default:"5"`
		WeeklyOrders        int           `yaml:"weekly_orders" default:"2"`
		HolidayWindowDays   int           `yaml:"holiday_window_days" default:"2"`
		SigmaFloor          float64       `yaml:"sigma_floor" default:"0.02"`
		IntervalZ           float64       `yaml:"interval_z" default:"1.96"`
		HorizonScaleDays    float64       `yaml:"horizon_scale_days" default:"7"`
		Timeout             time.Duration `yaml:"timeout" default:"2m"`
		RegressionTolerance float64       `yaml:"regression_tolerance" default:"0.05"`
	} `yaml:"trainer"`
	Registry struct {
		KeepVersions int `yaml:"keep_versions" default:"20" validate:"gte=2"`
	} `yaml:"registry"`
	Forecast struct {
		HardCeiling     time.Duration `yaml:"hard_ceiling" default:"168h"`
		DegradedBand    float64       `yaml:"degraded_band" default:"0.15"`
		MaxHorizonDates int           `yaml:"max_horizon_dates" default:"366"`
		CacheTTL        time.Duration `yaml:"cache_ttl" default:"5m"`
		ModelCacheTTL   time.Duration `yaml:"model_cache_ttl" default:"1h"`
	} `yaml:"forecast"`
	Scheduler struct {
		Enabled  bool          `yaml:"enabled" default:"true"`
		Interval time.Duration `yaml:"interval" default:"15m"`
		Workers  int           `yaml:"workers" default:"4"`
		LockTTL  time.Duration `yaml:"lock_ttl" default:"10m"`
	} `yaml:"scheduler"`
}

type RouteClassConfig struct {
	Name         string  `yaml:"name" validate:"required"`
	BaselineFare float64 `yaml:"baseline_fare" validate:"gt=0"`
}

type RouteConfig struct {
	ID    string `yaml:"id" validate:"required"`
	Class string `yaml:"class" validate:"required"`
}

type SourceConfig struct {
	ID              string            `yaml:"id" validate:"required"`
	Disabled        bool              `yaml:"disabled"`
	Fields          map[string]string `yaml:"fields"`
	TimeLayouts     []string          `yaml:"time_layouts"`
	Timezone        string            `yaml:"timezone" default:"Asia/Manila"`
	PriceUnit       string            `yaml:"price_unit" default:"major" validate:"oneof=major minor"`
	DefaultCurrency string            `yaml:"default_currency" default:"PHP"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML on top and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// yaml leaves appended slice elements without defaults
	for i := range c.Sources {
		if err := defaults.Set(&c.Sources[i]); err != nil {
			return nil, fmt.Errorf("source defaults: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FARECAST_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("FEED_TOKEN"); v != "" {
		c.Feed.Token = v
	}
	if v := os.Getenv("FORECAST_HORIZON_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Forecast.MaxHorizonDates = n
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when feed is enabled")
	}

	classes := make(map[string]struct{}, len(c.RouteClasses))
	for _, rc := range c.RouteClasses {
		classes[rc.Name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Routes))
	for _, r := range c.Routes {
		if !routeIDPattern.MatchString(r.ID) {
			return fmt.Errorf("route id %q must look like MNL-CEB", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("route %s declared twice", r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := classes[r.Class]; !ok {
			return fmt.Errorf("route %s references unknown class %q", r.ID, r.Class)
		}
	}

	for cur, rate := range c.Currency.Rates {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return fmt.Errorf("currency.rates.%s: %w", cur, err)
		}
		if !d.IsPositive() {
			return fmt.Errorf("currency.rates.%s must be positive", cur)
		}
	}

	for _, p := range c.Pipeline.Staleness.Priority {
		switch p {
		case "age", "volume", "error_drift":
		default:
			return fmt.Errorf("pipeline.staleness.priority: unknown reason %q", p)
		}
	}
	return nil
}
