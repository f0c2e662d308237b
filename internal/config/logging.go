package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets up the global zerolog logger: a console writer
// unless LogFormat is json, at LogLevel (info when unparsable).
func (c *Config) ConfigureLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !strings.EqualFold(c.LogFormat, "json") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
