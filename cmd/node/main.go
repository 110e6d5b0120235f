package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"

	"imgdht/internal/config"
	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	zapfactory "imgdht/internal/logger/zap"
	"imgdht/internal/node"
	"imgdht/internal/telemetry"
)

var defaultConfigPath = "config/node/config.yaml"

func main() {
	peer := flag.String("p", "", "known peer to join through (FQDN:port); absent means be the first node")
	idFlag := flag.String("I", "", "force this node's ring ID in [0,255]; otherwise derived from address+port")
	imageFolder := flag.String("i", "images", "folder containing this node's images and FILELIST.txt")
	bindHost := flag.String("b", "", "local address to bind and advertise (default: resolve via OS hostname)")
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	var forcedID *identifier.ID
	if *idFlag != "" {
		v, err := strconv.Atoi(*idFlag)
		if err != nil || v < 0 || v > 255 {
			lgr.Error("invalid -I value, must be an integer in [0,255]", logger.F("value", *idFlag))
			os.Exit(1)
		}
		id := identifier.ID(v)
		forcedID = &id
	}

	lgr = lgr.Named("node")
	e, err := node.New(lgr, *bindHost, forcedID, *imageFolder, *peer)
	if err != nil {
		lgr.Error("failed to initialize node", logger.F("err", err.Error()))
		os.Exit(1)
	}
	lgr = lgr.With(logger.FDescriptor("self", e.Self()))

	shutdown := telemetry.Init(cfg.Telemetry, "imgdht-node", e.Self().ID)
	defer func() { _ = shutdown(context.Background()) }()

	if err := e.Run(os.Stdin); err != nil {
		lgr.Error("node stopped", logger.F("err", err.Error()))
		os.Exit(1)
	}
	lgr.Info("node exited normally")
}
