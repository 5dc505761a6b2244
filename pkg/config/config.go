package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

// Config holds connection settings for the Dataverse API and the local
// store. All values come from environment variables; a .env file can supply
// them for local runs. Secrets (DATAVERSE_CLIENT_SECRET, connection strings)
// must never live in checked-in files.
type Config struct {
	// Dataverse Web API root, e.g. https://org.crm.dynamics.com/api/data/v9.2.
	// A trailing slash is stripped at load time.
	APIURL       string `env:"DATAVERSE_API_URL"`
	ClientID     string `env:"DATAVERSE_CLIENT_ID"`
	ClientSecret string `env:"DATAVERSE_CLIENT_SECRET"`
	Scope        string `env:"DATAVERSE_SCOPE"`

	// Exactly one of the two stores must be configured.
	SQLiteDBPath       string `env:"SQLITE_DB_PATH"`
	PostgresConnString string `env:"POSTGRES_CONNECTION_STRING"`
}

// Load reads configuration from the environment. Sources are tried in
// order: an explicit env file path, a .env file in the working directory,
// then ambient environment variables. Values from an env file override
// ambient variables for the keys the file defines.
func Load(envFile string) (*Config, error) {
	cfg := &Config{}

	switch {
	case envFile != "":
		if err := cleanenv.ReadConfig(envFile, cfg); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrConfig, envFile, err)
		}
	case fileExists(".env"):
		if err := cleanenv.ReadConfig(".env", cfg); err != nil {
			return nil, fmt.Errorf("%w: reading .env: %v", apperrors.ErrConfig, err)
		}
	default:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("%w: reading environment: %v", apperrors.ErrConfig, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.APIURL == "" {
		missing = append(missing, "DATAVERSE_API_URL")
	}
	if c.ClientID == "" {
		missing = append(missing, "DATAVERSE_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "DATAVERSE_CLIENT_SECRET")
	}
	if c.Scope == "" {
		missing = append(missing, "DATAVERSE_SCOPE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required environment variables: %s",
			apperrors.ErrConfig, strings.Join(missing, ", "))
	}

	switch {
	case c.SQLiteDBPath == "" && c.PostgresConnString == "":
		return fmt.Errorf("%w: no store configured, set SQLITE_DB_PATH or POSTGRES_CONNECTION_STRING",
			apperrors.ErrConfig)
	case c.SQLiteDBPath != "" && c.PostgresConnString != "":
		return fmt.Errorf("%w: both SQLITE_DB_PATH and POSTGRES_CONNECTION_STRING set, configure exactly one",
			apperrors.ErrConfig)
	}
	return nil
}

// StoreTarget reports which store family the configuration selects.
func (c *Config) StoreTarget() typemap.Target {
	if c.PostgresConnString != "" {
		return typemap.Postgres
	}
	return typemap.SQLite
}

// LoadEntities reads the entities config document and normalizes each
// entry. Every entity needs a singular name; the collection name defaults
// to name+"s" when api_name is absent.
func LoadEntities(path string) ([]models.EntityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading entities config: %v", apperrors.ErrConfig, err)
	}

	var file models.EntitiesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrConfig, path, err)
	}
	if len(file.Entities) == 0 {
		return nil, fmt.Errorf("%w: %s lists no entities", apperrors.ErrConfig, path)
	}

	for i := range file.Entities {
		if file.Entities[i].Name == "" {
			return nil, fmt.Errorf("%w: entity entry %d in %s has no name", apperrors.ErrConfig, i, path)
		}
		file.Entities[i].Normalize()
	}
	return file.Entities, nil
}

// LoadOptionSets reads the option-set override document: a JSON object
// mapping singular entity names to option-set field names. An empty path
// means no overrides.
func LoadOptionSets(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading option set config: %v", apperrors.ErrConfig, err)
	}

	var overrides map[string][]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrConfig, path, err)
	}
	return overrides, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
