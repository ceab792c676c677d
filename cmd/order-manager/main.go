// The order-manager daemon admits gateway orders against participant
// balances before they reach the matching engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vela/config"
	"vela/service/orderman"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.Named("order-manager")

	cfg, err := config.Load[config.OrderManager]()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	svc, err := orderman.New(cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	if err := svc.Start(); err != nil {
		log.Fatal("start", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
