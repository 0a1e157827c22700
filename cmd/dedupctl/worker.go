package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsdedup/config"
	"newsdedup/engine"
	"newsdedup/shared/kafka"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deduplicate article batches from Kafka",
	Long: `Consume ArticleBatch messages from KAFKA_INPUT_TOPIC and publish every
novel article to KAFKA_OUTPUT_TOPIC, keyed by article id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := engine.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		producer, err := kafka.NewProducer(cfg.KafkaBrokers, orDefault(cfg.KafkaOutputTopic, config.DefaultOutputTopic), logger)
		if err != nil {
			return err
		}
		defer producer.Close()

		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   orDefault(cfg.KafkaInputTopic, config.DefaultInputTopic),
			GroupID: orDefault(cfg.KafkaGroupID, config.DefaultGroupID),
			Handler: kafka.NewDedupHandler(eng.Dedup, producer, logger),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		if err := consumer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info().Msg("worker shutting down")
		return nil
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
