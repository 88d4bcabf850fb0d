package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		log.Error().Err(err).Msg("mailingest failed")
		os.Exit(1)
	}
}
