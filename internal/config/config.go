package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

type Config struct {
	ServerAddr     string   `validate:"required"`
	StoreDriver    string   `validate:"oneof=postgres badger"`
	DatabaseURL    string   `validate:"required_if=StoreDriver postgres"`
	BadgerPath     string
	SigningKey     []byte   `validate:"required"`
	AllowedOrigins []string `validate:"dive,url"`
}

// Params are the raw settings a Config is built from.
type Params struct {
	ServerAddr     string `env:"CHATSYNC_ADDR,default=localhost:8000"`
	StoreDriver    string `env:"CHATSYNC_STORE,default=badger"`
	DatabaseURL    string `env:"CHATSYNC_DATABASE_URL"`
	BadgerPath     string `env:"CHATSYNC_BADGER_PATH,default=data/badger"`
	SigningKey     string `env:"CHATSYNC_SIGNING_KEY"`
	AllowedOrigins string `env:"CHATSYNC_ALLOWED_ORIGINS"`
}

var validate = validator.New()

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:     p.ServerAddr,
		StoreDriver:    p.StoreDriver,
		DatabaseURL:    p.DatabaseURL,
		BadgerPath:     p.BadgerPath,
		SigningKey:     signingKey,
		AllowedOrigins: splitOrigins(p.AllowedOrigins),
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load reads settings from envFile, the environment and then args, each
// overriding the previous source. A missing envFile is ignored.
func Load(envFile string, args []string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var p Params
	if _, err := env.UnmarshalFromEnviron(&p); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	flags := flag.NewFlagSet("chatsync", flag.ContinueOnError)
	flags.StringVar(&p.ServerAddr, "addr", p.ServerAddr, "server address")
	flags.StringVar(&p.StoreDriver, "store", p.StoreDriver, "document store: postgres or badger")
	flags.StringVar(&p.DatabaseURL, "database-url", p.DatabaseURL, "postgres connection URL")
	flags.StringVar(&p.BadgerPath, "badger-path", p.BadgerPath, "badger data directory, empty for in-memory")
	flags.StringVar(&p.SigningKey, "signing-key", p.SigningKey, "base64 encoded signing key")
	flags.StringVar(&p.AllowedOrigins, "allowed-origins", p.AllowedOrigins, "comma-separated list of allowed origins for CORS")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	return NewConfig(p)
}
