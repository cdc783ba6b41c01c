package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Warehouse drivers.
const (
	DriverBigQuery = "bigquery"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// Storage drivers.
const (
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageLocal = "local"
)

type Config struct {
	Warehouse struct {
		Driver string `yaml:"driver"`

		BigQuery struct {
			Project         string `yaml:"project"`
			Dataset         string `yaml:"dataset"`
			Location        string `yaml:"location"`
			CredentialsFile string `yaml:"credentials_file"`
		} `yaml:"bigquery"`

		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
			Schema   string `yaml:"schema"`
		} `yaml:"postgres"`

		DuckDB struct {
			Path   string `yaml:"path"`
			Schema string `yaml:"schema"`
		} `yaml:"duckdb"`
	} `yaml:"warehouse"`

	Storage struct {
		Driver   string `yaml:"driver"`
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Path     string `yaml:"path"`
	} `yaml:"storage"`

	Chunk struct {
		OrderBy string `yaml:"order_by"`
		Verbose *bool  `yaml:"verbose"`
	} `yaml:"chunk"`

	Expect struct {
		Tables []string `yaml:"tables"`
		Rows   int64    `yaml:"rows"`
	} `yaml:"expect"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Environment variables honoured on top of the config file.
const (
	EnvProject     = "PROJECT"
	EnvDataset     = "DATASET"
	EnvBucket      = "BUCKET_NAME"
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML config, then applies defaults and environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Warehouse.Driver == "" {
		c.Warehouse.Driver = DriverBigQuery
	}
	if c.Warehouse.Postgres.Port == 0 {
		c.Warehouse.Postgres.Port = 5432
	}
	if c.Warehouse.Postgres.Schema == "" {
		c.Warehouse.Postgres.Schema = "public"
	}
	if c.Warehouse.DuckDB.Schema == "" {
		c.Warehouse.DuckDB.Schema = "main"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageS3
		if c.Warehouse.Driver == DriverBigQuery {
			c.Storage.Driver = StorageGCS
		}
	}
	if c.Chunk.OrderBy == "" {
		c.Chunk.OrderBy = "key"
	}
	if c.Chunk.Verbose == nil {
		v := true
		c.Chunk.Verbose = &v
	}
	if len(c.Expect.Tables) == 0 {
		c.Expect.Tables = []string{"train_10k", "val_10k"}
	}
	if c.Expect.Rows == 0 {
		c.Expect.Rows = 10000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvProject); ok && v != "" {
		c.Warehouse.BigQuery.Project = v
	}
	if v, ok := lookup(EnvDataset); ok && v != "" {
		c.Warehouse.BigQuery.Dataset = v
	}
	if v, ok := lookup(EnvBucket); ok && v != "" {
		c.Storage.Bucket = v
	}
	if v, ok := lookup(EnvCredentials); ok && v != "" {
		c.Warehouse.BigQuery.CredentialsFile = v
	}
}

// Validate reports configuration that no backend could be opened with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Warehouse.Driver {
	case DriverBigQuery:
		if c.Warehouse.BigQuery.Dataset == "" {
			errs = append(errs, errors.New("warehouse.bigquery.dataset is required"))
		}
	case DriverPostgres:
		if c.Warehouse.Postgres.Database == "" {
			errs = append(errs, errors.New("warehouse.postgres.database is required"))
		}
	case DriverDuckDB:
	default:
		errs = append(errs, fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver))
	}

	switch c.Storage.Driver {
	case StorageGCS, StorageS3, StorageLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

// Verbose reports whether reads and writes print their operator banner.
func (c *Config) Verbose() bool {
	return c.Chunk.Verbose == nil || *c.Chunk.Verbose
}

// Dataset is the namespace tables live in for the configured driver.
func (c *Config) Dataset() string {
	switch c.Warehouse.Driver {
	case DriverPostgres:
		return c.Warehouse.Postgres.Schema
	case DriverDuckDB:
		return c.Warehouse.DuckDB.Schema
	default:
		return c.Warehouse.BigQuery.Dataset
	}
}

// PostgresURL builds the connection string for the postgres driver.
func (c *Config) PostgresURL() string {
	pg := c.Warehouse.Postgres
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		pg.User,
		pg.Password,
		pg.Host,
		pg.Port,
		pg.Database,
	)
}

