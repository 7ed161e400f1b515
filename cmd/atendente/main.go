// Command atendente runs the WhatsApp scheduling assistant.
//
//	atendente serve     HTTP server (webhook, operator API); also runs the
//	                    workers when the queue is in-process
//	atendente worker    pipeline workers only (needs REDIS_URL)
//	atendente migrate   create or update the database schema
//
// @title       go-atendente API
// @version     1.0
// @description WhatsApp webhook, manual appointments, and the operator dashboard.
// @BasePath    /
package main

import (
	"os"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
