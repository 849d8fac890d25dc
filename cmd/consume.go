/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fraudgate/internal/bootstrap"
	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/errs"
	"fraudgate/internal/stream"
	"fraudgate/internal/usecase/ingest"
)

// consumeCmd represents the consume command
var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the stream consumer",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, ingestSvc *ingest.Service) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		streamCfg := app.Config.Stream

		source, err := stream.NewNATSSource(stream.NATSConfig{
			URL:           streamCfg.URL,
			Stream:        streamCfg.Stream,
			SubjectPrefix: streamCfg.SubjectPrefix,
			Durable:       streamCfg.Durable,
			Partitions:    streamCfg.Partitions,
		})
		if err != nil {
			return errs.Wrap(err, "open stream source")
		}
		defer source.Close()

		dlq, err := stream.NewNATSDeadLetterSink(source.JetStream(), streamCfg.Stream+"_DLQ", streamCfg.DeadLetterSubject)
		if err != nil {
			return errs.Wrap(err, "open dead-letter sink")
		}

		breaker := stream.NewBreaker(streamCfg.Breaker.FailureThreshold, streamCfg.Breaker.Cooldown)
		consumer := stream.NewConsumer(source, dlq, ingestSvc, breaker, stream.Config{
			Partitions:  streamCfg.Partitions,
			Concurrency: streamCfg.Concurrency,
			BatchSize:   streamCfg.BatchSize,
			PollTimeout: streamCfg.PollTimeout,
			Retry: stream.RetryConfig{
				MaxAttempts:     streamCfg.Retry.MaxAttempts,
				InitialInterval: streamCfg.Retry.InitialInterval,
				MaxInterval:     streamCfg.Retry.MaxInterval,
			},
		})

		logging.Info(ctx, "starting stream consumer",
			slog.String("command", cmd.CommandPath()),
			slog.String("stream", streamCfg.Stream),
			slog.String("durable", streamCfg.Durable),
		)
		if err := consumer.Run(ctx); err != nil {
			return errs.Wrap(err, "run stream consumer")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}
