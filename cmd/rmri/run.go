package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/orchestrator"
	"github.com/mohammad-safakhou/rmri/internal/runtime"
	"github.com/spf13/cobra"
)

// runCMD executes one run in-process and prints its final report.
func runCMD() *cobra.Command {
	var cfgPath, query, domain, itemsPath, mode string
	var providers []string
	var maxIterations int
	var threshold float64

	var run = &cobra.Command{
		Use:   "run",
		Short: "Run an analysis in-process and print the final report",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(itemsPath)
			if err != nil {
				return err
			}
			cfg := config.LoadConfig(cfgPath)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := runtime.Build(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = svc.Close(closeCtx)
			}()

			id, err := svc.Orchestrator.Start(ctx, orchestrator.StartRequest{
				Query:  query,
				Domain: domain,
				Items:  items,
				Model:  orchestrator.ModelConfig{Mode: mode, Providers: providers},
				Config: orchestrator.RunConfig{MaxIterations: maxIterations, ConvergenceThreshold: threshold},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s started\n", id)

			st, err := svc.Orchestrator.Wait(ctx, id)
			if err != nil {
				// interrupted: cancel and wait for the run to settle
				_ = svc.Orchestrator.Cancel(id)
				waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				st, err = svc.Orchestrator.Wait(waitCtx, id)
				if err != nil {
					return err
				}
			}
			if st.Status != string(orchestrator.StateCompleted) {
				return fmt.Errorf("run %s ended %s: %s", id, st.Status, st.Error)
			}
			rec, err := svc.Store.GetRun(context.Background(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			b, err := json.MarshalIndent(rec.FinalReport, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(b))
			return err
		},
	}
	run.Flags().StringVarP(&query, "query", "q", "", "research question")
	run.Flags().StringVar(&domain, "domain", "", "domain hint for the prompts")
	run.Flags().StringVar(&itemsPath, "items", "", "JSON file with an array of {id,title,content} items")
	run.Flags().StringVar(&mode, "mode", "fallback", "model call mode: fallback or ensemble")
	run.Flags().StringSliceVar(&providers, "providers", nil, "provider order, e.g. openai,anthropic")
	run.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap (0 = configured default)")
	run.Flags().Float64Var(&threshold, "threshold", 0, "convergence threshold (0 = configured default)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	_ = run.MarkFlagRequired("query")
	_ = run.MarkFlagRequired("items")

	return run
}

func readItems(path string) ([]agents.Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var items []agents.Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("parse items %s: %w", path, err)
	}
	return items, nil
}
