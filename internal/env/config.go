package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	URL                  string        `env:"ONRAMP_URL,default=ws://localhost:8000/ws"`
	Serialization        string        `env:"ONRAMP_SERIALIZATION,default=json"`
	RetryDelay           time.Duration `env:"ONRAMP_RETRY_DELAY,default=2s"`
	CallTimeout          time.Duration `env:"ONRAMP_CALL_TIMEOUT"`
	SkipSubprotocolCheck bool          `env:"ONRAMP_SKIP_SUBPROTOCOL_CHECK"`
	HTTPAddr             string        `env:"ONRAMP_HTTP_ADDR,default=:9464"`
	Debug                bool          `env:"ONRAMP_DEBUG"`
}

// LoadConfig reads .env.local, if present, then the environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, err
	}

	return &config, nil
}
