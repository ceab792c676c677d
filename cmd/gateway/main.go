// The gateway daemon runs the FIX 4.4 acceptor and bridges sessions onto
// the order manager.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"vela/config"
	"vela/gateway"
	"vela/transport/ws"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.Named("gateway")

	cfg, err := config.Load[config.Gateway]()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	settingsFile, err := os.Open(cfg.SettingsPath)
	if err != nil {
		log.Fatal("open fix settings", zap.Error(err))
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		log.Fatal("parse fix settings", zap.Error(err))
	}

	om, err := ws.Dial(cfg.OrderManagerURL, cfg.QueueSize, log)
	if err != nil {
		log.Fatal("dial order manager", zap.Error(err))
	}

	app := gateway.NewApp(om, log)
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), settings, quickfix.NewScreenLogFactory())
	if err != nil {
		log.Fatal("build acceptor", zap.Error(err))
	}
	if err := acceptor.Start(); err != nil {
		log.Fatal("start acceptor", zap.Error(err))
	}
	log.Info("fix acceptor up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	acceptor.Stop()
	app.Close()
	om.Close()
}
