package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	Identity   IdentityConfig   `yaml:"identity" mapstructure:"identity"`
	Decay      DecayConfig      `yaml:"decay" mapstructure:"decay"`
	Aggregate  AggregateConfig  `yaml:"aggregate" mapstructure:"aggregate"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// TaxonomyConfig locates the versioned title-rule-set file.
type TaxonomyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// IdentityConfig locates the metro gazetteer consulted during location
// resolution. Empty means the built-in metro set.
type IdentityConfig struct {
	MetrosPath string `yaml:"metros_path" mapstructure:"metros_path"`
}

// DecayConfig controls recency decay of evidence weight.
type DecayConfig struct {
	HalfLifeDays int     `yaml:"half_life_days" mapstructure:"half_life_days"`
	Floor        float64 `yaml:"floor" mapstructure:"floor"`
}

// AggregateConfig tunes evidence aggregation and prior fusion.
type AggregateConfig struct {
	SparseThreshold int     `yaml:"sparse_threshold" mapstructure:"sparse_threshold"` // below this, blend with the macro prior
	ShrinkageK      float64 `yaml:"shrinkage_k" mapstructure:"shrinkage_k"`           // pseudo-count k in n/(n+k)
}

// ConfidenceConfig holds the component weights and thresholds of the
// composite confidence formula. Weights must sum to 1.
type ConfidenceConfig struct {
	SourceWeight    float64 `yaml:"source_weight" mapstructure:"source_weight"`
	VolumeWeight    float64 `yaml:"volume_weight" mapstructure:"volume_weight"`
	AgreementWeight float64 `yaml:"agreement_weight" mapstructure:"agreement_weight"`
	RecencyWeight   float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	MappingWeight   float64 `yaml:"mapping_weight" mapstructure:"mapping_weight"`

	VolumeK         float64            `yaml:"volume_k" mapstructure:"volume_k"`                 // saturation rate of 1-e^(-k*n)
	PriorCeiling    float64            `yaml:"prior_ceiling" mapstructure:"prior_ceiling"`       // cap for prior-only archetypes
	ReviewThreshold float64            `yaml:"review_threshold" mapstructure:"review_threshold"` // composite below this flags review
	TierWeights     map[string]float64 `yaml:"tier_weights" mapstructure:"tier_weights"`
}

// PipelineConfig configures batch execution.
type PipelineConfig struct {
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	AmbiguityEpsilon float64 `yaml:"ambiguity_epsilon" mapstructure:"ambiguity_epsilon"`
}

// SourcesConfig configures the built-in connectors.
type SourcesConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	PayrollURL  string `yaml:"payroll_url" mapstructure:"payroll_url"`
	PostingsURL string `yaml:"postings_url" mapstructure:"postings_url"`
	VisaURL     string `yaml:"visa_url" mapstructure:"visa_url"`
}

// ServerConfig configures the archetype query API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ARCHETYPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "archetype.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("taxonomy.rules_path", "")
	v.SetDefault("identity.metros_path", "")
	v.SetDefault("decay.half_life_days", 730)
	v.SetDefault("decay.floor", 0.05)
	v.SetDefault("aggregate.sparse_threshold", 5)
	v.SetDefault("aggregate.shrinkage_k", 5.0)
	v.SetDefault("confidence.source_weight", 0.30)
	v.SetDefault("confidence.volume_weight", 0.20)
	v.SetDefault("confidence.agreement_weight", 0.20)
	v.SetDefault("confidence.recency_weight", 0.15)
	v.SetDefault("confidence.mapping_weight", 0.15)
	v.SetDefault("confidence.volume_k", 0.35)
	v.SetDefault("confidence.prior_ceiling", 0.5)
	v.SetDefault("confidence.review_threshold", 0.35)
	v.SetDefault("confidence.tier_weights", map[string]float64{"A": 1.0, "B": 0.75, "C": 0.45})
	v.SetDefault("pipeline.batch_size", 2000)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.ambiguity_epsilon", 0.05)
	v.SetDefault("sources.temp_dir", "/tmp/archetype")
	v.SetDefault("sources.user_agent", "archetype-cli/1.0")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
