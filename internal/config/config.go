package config

import (
	"time"

	"github.com/bigredeye/checkgate/pkg/conf"
	"github.com/pkg/errors"
)

type Config struct {
	Pipeline struct {
		// Exactly one of Path (watched local file) and URL (polled) is set.
		Path         string
		URL          string
		PollInterval time.Duration
	}

	Runner struct {
		Shell            string
		Workdir          string
		ArtifactsDir     string
		MaxParallelGates int64
		GateTimeout      time.Duration
		// Human-readable cap on captured gate output, e.g. "4MiB".
		MaxGateOutput string
	}

	Server struct {
		ListenAddress string
		Tokens        []string
	}

	DataBase struct {
		Host string
		Port uint16
		User string
		Pass string
		Name string
		// KeepRunsFor enables pruning of finalized runs older than the
		// given age. Zero keeps history forever.
		KeepRunsFor time.Duration
	}

	Notify struct {
		Telegram struct {
			BotToken  string
			ChatID    int64
			OnSuccess bool
			// StatusBot also answers /latest queries over long polling.
			StatusBot bool
		}

		GitLab struct {
			BaseURL string
			Token   string
			Project string
		}

		Webhook struct {
			URL   string
			Token string
		}
	}
}

func ParseConfig() (*Config, error) {
	config := &Config{}
	err := conf.ParseConfig(config,
		conf.EnvPrefix("CG"),
		conf.Defaults(map[string]interface{}{
			"Runner.Shell":            "sh",
			"Runner.MaxParallelGates": 4,
			"Runner.GateTimeout":      time.Hour,
			"Runner.MaxGateOutput":    "4MiB",
			"Pipeline.PollInterval":   time.Minute,
			"Server.ListenAddress":    ":18080",
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to parse config")
	}
	return config, nil
}
