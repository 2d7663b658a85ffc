package main

import (
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/web"
	zlog "github.com/bigredeye/checkgate/pkg/log"
)

func run() error {
	// Logging starts before config parsing, so the file sink is bound
	// straight from the environment.
	var logger *zap.Logger
	if path := os.Getenv("CG_LOG_PATH"); path != "" {
		logger = zlog.InitProdFile(path)
	} else {
		logger = zlog.InitDev()
	}
	defer zlog.Sync()

	return web.Run(logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
