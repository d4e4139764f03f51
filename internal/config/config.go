// Package config loads server settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/erazemk/nxledger/internal/blob"
)

// Config holds the server settings.
type Config struct {
	DBDriver  string
	DSN       string
	Addr      string
	AdminUser string
	LogPath   string

	// RedisAddr enables the distributed lock, idempotency keys and alert
	// channel. Empty keeps all three in-process.
	RedisAddr     string
	RedisPassword string
	AlertChannel  string
	LockTTL       time.Duration

	Blob blob.Config
}

// Usage describes the server flags.
const Usage = `Usage: nxledger [flags]

Flags:
  -D, -driver <name>      database driver: sqlite, mysql or pgx (default: sqlite)
  -d, -db <dsn>           database path or DSN (default: nxledger.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        admin username on first run (default: Admin)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -r, -redis <host:port>  Redis address for locks, idempotency keys and alerts
  -b, -blob <driver>      image storage: sql or s3 (default: sql)
  -h, -help               show this help and exit

Every flag defaults to its NXLEDGER_* environment variable, which may also be
set in a .env file (NXLEDGER_ENV_FILE, default: .env).
`

// Load parses args on top of the environment.
// It returns flag.ErrHelp when help was requested.
func Load(args []string) (*Config, error) {
	env, err := readEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBDriver:      env.get("NXLEDGER_DB_DRIVER", "sqlite"),
		DSN:           env.get("NXLEDGER_DB", "nxledger.sqlite3"),
		Addr:          env.get("NXLEDGER_ADDR", ":8080"),
		AdminUser:     env.get("NXLEDGER_ADMIN_USER", "Admin"),
		LogPath:       env.get("NXLEDGER_LOG", ""),
		RedisAddr:     env.get("NXLEDGER_REDIS_ADDR", ""),
		RedisPassword: env.get("NXLEDGER_REDIS_PASSWORD", ""),
		AlertChannel:  env.get("NXLEDGER_ALERT_CHANNEL", "nxledger:alerts"),
		Blob: blob.Config{
			Driver: env.get("NXLEDGER_BLOB_DRIVER", blob.DriverSQL),
			S3: blob.S3Config{
				Bucket:          env.get("NXLEDGER_BLOB_S3_BUCKET", ""),
				Region:          env.get("NXLEDGER_BLOB_S3_REGION", "us-east-1"),
				Endpoint:        env.get("NXLEDGER_BLOB_S3_ENDPOINT", ""),
				AccessKeyID:     env.get("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: env.get("AWS_SECRET_ACCESS_KEY", ""),
			},
		},
	}
	if cfg.LockTTL, err = time.ParseDuration(env.get("NXLEDGER_LOCK_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("parsing NXLEDGER_LOCK_TTL: %w", err)
	}
	if cfg.Blob.S3.PathStyle, err = strconv.ParseBool(env.get("NXLEDGER_BLOB_S3_PATH_STYLE", "false")); err != nil {
		return nil, fmt.Errorf("parsing NXLEDGER_BLOB_S3_PATH_STYLE: %w", err)
	}

	flags := flag.NewFlagSet("nxledger", flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprint(os.Stdout, Usage) }

	stringFlag(flags, &cfg.DBDriver, "driver", "D")
	stringFlag(flags, &cfg.DSN, "db", "d")
	stringFlag(flags, &cfg.Addr, "addr", "a")
	stringFlag(flags, &cfg.AdminUser, "user", "u")
	stringFlag(flags, &cfg.LogPath, "log", "l")
	stringFlag(flags, &cfg.RedisAddr, "redis", "r")
	stringFlag(flags, &cfg.Blob.Driver, "blob", "b")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}
	return cfg, nil
}

func stringFlag(flags *flag.FlagSet, p *string, long, short string) {
	flags.StringVar(p, long, *p, "")
	flags.StringVar(p, short, *p, "")
}

// environment resolves a variable from the process first, then the .env file.
type environment map[string]string

func (e environment) get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := e[key]; v != "" {
		return v
	}
	return def
}

func readEnv() (environment, error) {
	path := os.Getenv("NXLEDGER_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return environment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vars, nil
}
