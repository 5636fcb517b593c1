package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/queue/streams"
	"github.com/mohammad-safakhou/rmri/internal/runtime"
	"github.com/spf13/cobra"
)

// watchCMD tails the run event stream through a consumer group.
func watchCMD() *cobra.Command {
	var cfgPath, runID, group, consumer string
	var fromStart bool

	var watch = &cobra.Command{
		Use:   "watch",
		Short: "Follow run events from the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := runtime.NewRedisClient(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			stream := cfg.Telemetry.EventsStream
			if stream == "" {
				stream = streams.DefaultStream
			}
			start := "$"
			if fromStart {
				start = "0"
			}
			if err := streams.EnsureGroup(ctx, client, stream, group, start); err != nil {
				return err
			}
			registry, err := streams.NewRunEventRegistry()
			if err != nil {
				return err
			}
			if consumer == "" {
				host, _ := os.Hostname()
				consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}
			c := streams.NewConsumer(client, registry, group, consumer)
			out := cmd.OutOrStdout()
			err = c.Follow(ctx, stream, runID, func(m streams.Message) error {
				var ev orchestrator.Event
				if err := m.Envelope.Decode(&ev); err != nil {
					return err
				}
				line := fmt.Sprintf("%s %s %-24s %-13s iter=%d", ev.At.Format("15:04:05"), ev.RunID, ev.Type, ev.Status, ev.Iteration)
				if ev.Reason != "" {
					line += fmt.Sprintf(" reason=%s similarity=%.3f", ev.Reason, ev.Similarity)
				}
				if ev.Message != "" {
					line += " " + ev.Message
				}
				_, err := fmt.Fprintln(out, line)
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	watch.Flags().StringVar(&runID, "run-id", "", "only show events of this run")
	watch.Flags().StringVar(&group, "group", "watchers", "consumer group")
	watch.Flags().StringVar(&consumer, "consumer", "", "consumer name (default host-random)")
	watch.Flags().BoolVar(&fromStart, "from-start", false, "create the group at the beginning of the stream")
	watch.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return watch
}
