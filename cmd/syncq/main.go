package main

import (
	"context"

	"github.com/mattbonnell/syncq/internal/cli"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("syncq failed")
	}
}
