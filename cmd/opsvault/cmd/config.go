package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/storage"
	bboltstorage "github.com/jmcleod/opsvault/storage/bbolt"
	"github.com/jmcleod/opsvault/storage/memory"
	"github.com/jmcleod/opsvault/storage/postgres"
	"github.com/jmcleod/opsvault/storage/sqlite"
)

// appKeyEnv holds the hex-encoded application key when --app-key-file is
// not given.
const appKeyEnv = "OPSVAULT_APP_KEY"

// Storage backends.
const (
	storageBBolt    = "bbolt"
	storagePostgres = "postgres"
	storageSQLite   = "sqlite"
	storageMemory   = "memory"
)

// globalConfig holds the flags shared by every subcommand.
type globalConfig struct {
	dataDir     string
	storage     string
	postgresDSN string
	appKeyFile  string
	kdfProfile  string
	logLevel    string
	logFormat   string
}

var cfg globalConfig

func (c *globalConfig) bindPersistent(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&c.dataDir, "data-dir", "./data", "Directory for persistent data")
	f.StringVar(&c.storage, "storage", storageBBolt, "Storage backend: bbolt, postgres, sqlite or memory")
	f.StringVar(&c.postgresDSN, "postgres-dsn", os.Getenv("OPSVAULT_POSTGRES_DSN"), "PostgreSQL connection string (postgres storage)")
	f.StringVar(&c.appKeyFile, "app-key-file", "", "File holding the hex-encoded application key (default $"+appKeyEnv+")")
	f.StringVar(&c.kdfProfile, "kdf-profile", util.KDFProfileModerate, "Argon2id cost profile: interactive, moderate or sensitive")
	f.StringVar(&c.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.StringVar(&c.logFormat, "log-format", "json", "Log format: json or text")
}

// newLogger builds the process logger from --log-level and --log-format.
func (c *globalConfig) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", c.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", c.logFormat)
	}
}

// openRepository opens the configured storage backend.
func (c *globalConfig) openRepository(ctx context.Context) (storage.Repository, error) {
	switch c.storage {
	case storageBBolt:
		if err := os.MkdirAll(c.dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return bboltstorage.Open(filepath.Join(c.dataDir, "opsvault.db"))
	case storageSQLite:
		if err := os.MkdirAll(c.dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return sqlite.Open(filepath.Join(c.dataDir, "opsvault.sqlite"))
	case storagePostgres:
		if c.postgresDSN == "" {
			return nil, fmt.Errorf("--postgres-dsn is required for postgres storage")
		}
		return postgres.Open(ctx, c.postgresDSN)
	case storageMemory:
		return memory.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.storage)
	}
}

// loadAppKey reads the application key from --app-key-file or the
// environment. The caller wipes the returned slice.
func (c *globalConfig) loadAppKey() ([]byte, error) {
	raw := os.Getenv(appKeyEnv)
	source := "$" + appKeyEnv
	if c.appKeyFile != "" {
		data, err := os.ReadFile(c.appKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading application key: %w", err)
		}
		raw, source = string(data), c.appKeyFile
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("no application key: set --app-key-file or $%s (generate one with 'opsvault keygen')", appKeyEnv)
	}
	key, err := util.HexDecode(raw)
	if err != nil {
		return nil, fmt.Errorf("application key in %s is not hex: %w", source, err)
	}
	if len(key) < auth.MinAppKeyLength {
		util.WipeBytes(key)
		return nil, fmt.Errorf("application key in %s must be at least %d bytes", source, auth.MinAppKeyLength)
	}
	return key, nil
}

func (c *globalConfig) kdfParams() (util.Argon2idParams, error) {
	return util.Argon2idProfile(c.kdfProfile)
}
