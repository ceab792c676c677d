// trade-tail follows the Kafka trade stream and prints each record, one
// JSON document per line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"vela/config"
)

type printer struct {
	log *zap.Logger
}

func (p *printer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (p *printer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (p *printer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		fmt.Printf("%s\t%s\n", message.Key, message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.Named("trade-tail")

	cfg, err := config.Load[config.TradeTail]()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.Group, saramaCfg)
	if err != nil {
		log.Fatal("consumer group", zap.Error(err))
	}
	defer group.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	handler := &printer{log: log}
	for ctx.Err() == nil {
		if err := group.Consume(ctx, []string{cfg.KafkaTopic}, handler); err != nil {
			log.Error("consume", zap.Error(err))
			return
		}
	}
}
