package config

import (
	"fmt"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
)

const EnvPrefix = "DEGENDUEL_SETTLER"

// Config is parsed once at startup and handed out by value. Nothing mutates it afterwards.
type Config struct {
	Chain struct {
		ChainID         int64  `conf:"default:114"`
		RPCURL          string `conf:"default:https://coston2-api.flare.network/ext/C/rpc"`
		WSURL           string `conf:"default:wss://coston2-api.flare.network/ext/C/ws"`
		ContractAddress string `conf:"default:0x835574875C1CB9003c1638E799f3d7c504808960"`
	}
	Fdc struct {
		VerifierURL     string        `conf:"default:https://fdc-verifiers-testnet.flare.network/verifier/web2/Web2Json/prepareRequest"`
		VerifierAPIKey  string        `conf:"default:00000000-0000-0000-0000-000000000000,noprint"`
		IntermediaryURL string        `conf:"default:http://localhost:3000/api/fdc"`
		DALayerURL      string        `conf:"optional"`
		EpochOrigin     int64         `conf:"default:1658430000"`
		EpochDuration   int64         `conf:"default:90"`
		RequestTimeout  time.Duration `conf:"default:2m"`
		ProofTimeout    time.Duration `conf:"default:10m"`
		ProofPollDelay  time.Duration `conf:"default:10s"`
		ProofPollMax    time.Duration `conf:"default:30s"`
		ProofAttempts   int           `conf:"default:30"`
		SubmitDelay     time.Duration `conf:"default:2s"`
		SubmitAttempts  int           `conf:"default:4"`
		PrepareAttempts int           `conf:"default:3"`
	}
	Prices struct {
		FeedIDs      []string      `conf:"default:0x01464c522f55534400000000000000000000000000;0x014254432f55534400000000000000000000000000;0x014554482f55534400000000000000000000000000;0x015852502f55534400000000000000000000000000;0x01534f4c2f55534400000000000000000000000000"`
		FtsoAddress  string        `conf:"default:0x835574875C1CB9003c1638E799f3d7c504808960"`
		Interval     time.Duration `conf:"default:10s"`
		CacheTTL     time.Duration `conf:"default:5s"`
		FetchTimeout time.Duration `conf:"default:10s"`
		RetryDelay   time.Duration `conf:"default:500ms"`
		Attempts     int           `conf:"default:4"`
	}
	Events struct {
		PollInterval   time.Duration `conf:"default:5s"`
		ConnectTimeout time.Duration `conf:"default:5s"`
		DedupTTL       time.Duration `conf:"default:10m"`
		RestartDelay   time.Duration `conf:"default:5s"`
	}
	Flock struct {
		URL     string        `conf:"default:https://api.flock.io/v1/chat/completions"`
		APIKey  string        `conf:"optional,noprint"`
		Model   string        `conf:"default:qwen3-30b-a3b-instruct-2507"`
		Timeout time.Duration `conf:"default:10s"`
	}
	Kafka struct {
		Enabled          bool     `conf:"default:false"`
		BootstrapServers []string `conf:"default:localhost:9092"`
		EventTopic       string   `conf:"default:degenduel-events"`
		PriceTopic       string   `conf:"default:degenduel-prices"`
	}
	Server struct {
		HttpHost        string `conf:"default:0.0.0.0:8000"`
		MetricsHttpHost string `conf:"default:0.0.0.0:9999"`
	}
	MetricsNamespace string `conf:"default:degenduel_settler"`
}

// ErrHelp is returned by Parse after the usage or version text has been printed.
var ErrHelp = errors.New("help requested")

// Parse reads the configuration from command line arguments and the environment.
func Parse(args []string) (Config, error) {
	var cfg Config
	if err := conf.Parse(args, EnvPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(EnvPrefix, &cfg)
			if err != nil {
				return cfg, errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return cfg, ErrHelp
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(EnvPrefix, &cfg)
			if err != nil {
				return cfg, errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return cfg, ErrHelp
		}
		return cfg, errors.Wrap(err, "parsing config")
	}
	if cfg.Fdc.EpochDuration <= 0 {
		return cfg, errors.Errorf("invalid epoch duration [%d]", cfg.Fdc.EpochDuration)
	}
	return cfg, nil
}

// String renders the configuration for the startup log. Secrets are tagged noprint.
func (c Config) String() string {
	out, err := conf.String(&c)
	if err != nil {
		return fmt.Sprintf("generating config for output: %v", err)
	}
	return out
}
