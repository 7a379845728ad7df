// Package config loads server settings from the environment and database
// declarations from YAML or JSON files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/stevemurr/layerstore/database"
)

// Settings configure the server process.
type Settings struct {
	Host           string
	Port           string
	ConfigPath     string
	AllowedOrigins []string
	LogLevel       string

	// Backend, DataDir and DatabaseURL describe the single store used when
	// no configuration file is given.
	Backend     string
	DataDir     string
	DatabaseURL string
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FromEnv reads Settings from the environment.
func FromEnv() Settings {
	origins := strings.Split(env("ALLOWED_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return Settings{
		Host:           env("HOST", "0.0.0.0"),
		Port:           env("PORT", "8080"),
		ConfigPath:     env("CONFIG_PATH", ""),
		AllowedOrigins: origins,
		LogLevel:       env("LOG_LEVEL", "info"),
		Backend:        env("STORE_BACKEND", "json"),
		DataDir:        env("DATA_DIR", "./data"),
		DatabaseURL:    env("DATABASE_URL", ""),
	}
}

// Addr is the listen address.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// Level parses LogLevel, defaulting to info.
func (s Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Declaration describes the single persistence store configured by
// STORE_BACKEND, DATA_DIR and DATABASE_URL.
func (s Settings) Declaration() (database.Declaration, error) {
	decl := database.Declaration{
		Name:  "default",
		Type:  s.Backend,
		URI:   s.DatabaseURL,
		Layer: database.PersistenceLayer,
	}
	if decl.URI != "" {
		return decl, nil
	}
	switch s.Backend {
	case "memory":
		decl.URI = "memory:"
	case "json":
		decl.URI = s.DataDir
	case "sqlite":
		decl.URI = filepath.Join(s.DataDir, "layerstore.db")
	default:
		return database.Declaration{}, errors.NotValidf("backend %q without DATABASE_URL", s.Backend)
	}
	return decl, nil
}

// Load reads a YAML or JSON document. Environment variables referenced as
// $VAR or ${VAR} are expanded before parsing.
func Load(path string) (yaml.MapSlice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config")
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes a YAML or JSON mapping. Mappings at every level keep their
// document order, which decides the order of the declared databases.
func Parse(data []byte) (yaml.MapSlice, error) {
	var doc any
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, errors.Annotate(err, "parsing config")
	}
	switch m := doc.(type) {
	case nil:
		return yaml.MapSlice{}, nil
	case yaml.MapSlice:
		return m, nil
	}
	return nil, errors.NotValidf("config of type %T, want a mapping", doc)
}
