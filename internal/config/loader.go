package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/versioning"
)

// Config is the complete application configuration.
type Config struct {
	Database   db.Config
	Server     ServerConfig
	LogLevel   string
	Versioning []TableConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// TableConfig attaches versioning to one table.
type TableConfig struct {
	Table      string
	Alias      string
	Versioning versioning.Config
}

// Load reads config.yaml from configPath, falling back to defaults and
// environment variables (DB_HOST, DB_PORT, ...) when no file is present.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		LogLevel: "info",
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("DB")

	// database keys map onto flat env vars such as DB_HOST
	for _, key := range []string{"driver", "host", "port", "user", "password", "dbname", "sslmode", "path", "max_conns"} {
		_ = v.BindEnv("database."+key, "DB_"+strings.ToUpper(key))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		logrus.WithField("path", configPath).Info("no config.yaml found, using defaults and env vars")
	} else {
		logrus.WithField("file", v.ConfigFileUsed()).Info("loaded config.yaml")
	}

	loadDatabase(v, &cfg.Database)

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = cast.ToStringSlice(v.Get("server.allowed_origins"))
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}

	tables, err := loadTables(v.Get("versioning.tables"))
	if err != nil {
		return cfg, err
	}
	cfg.Versioning = tables
	return cfg, nil
}

func loadDatabase(v *viper.Viper, cfg *db.Config) {
	if v.IsSet("database.driver") {
		cfg.Driver = v.GetString("database.driver")
	}
	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.path") {
		cfg.Path = v.GetString("database.path")
	}
	if v.IsSet("database.max_conns") {
		cfg.MaxConns = v.GetInt("database.max_conns")
	}
}

func loadTables(raw any) ([]TableConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("versioning.tables must be a list: %w", err)
	}

	tables := make([]TableConfig, 0, len(items))
	for i, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("versioning.tables[%d] must be a map: %w", i, err)
		}
		name := cast.ToString(m["table"])
		if name == "" {
			return nil, fmt.Errorf("versioning.tables[%d] is missing table", i)
		}

		vc := versioning.Config{
			VersionTable:  cast.ToString(m["version_table"]),
			VersionField:  cast.ToString(m["version_field"]),
			ReferenceName: cast.ToString(m["reference_name"]),
			OnlyDirty:     cast.ToBool(m["only_dirty"]),
		}
		if fields, ok := m["fields"]; ok && fields != nil {
			vc.Fields = cast.ToStringSlice(fields)
		}
		if fk, ok := m["foreign_key"]; ok && fk != nil {
			vc.ForeignKey = cast.ToStringSlice(fk)
		}
		if extras, ok := m["additional_version_fields"]; ok && extras != nil {
			vc.AdditionalVersionFields = []versioning.AdditionalField{}
			for _, entry := range cast.ToStringSlice(extras) {
				field, err := versioning.ParseAdditionalField(entry)
				if err != nil {
					return nil, fmt.Errorf("versioning.tables[%d]: %w", i, err)
				}
				vc.AdditionalVersionFields = append(vc.AdditionalVersionFields, field)
			}
		}

		tables = append(tables, TableConfig{
			Table:      name,
			Alias:      cast.ToString(m["alias"]),
			Versioning: vc,
		})
	}
	return tables, nil
}
