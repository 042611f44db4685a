package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"neuroevo/internal/genotype"
	"neuroevo/internal/metrics"
	"neuroevo/pkg/neuroevo"
)

type runOptions struct {
	configPath  string
	task        string
	population  int
	topology    []int
	generations int
	seed        int64
	runs        int
	saveFirstN  int
	elitist     bool
	metricsAddr string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the genetic algorithm on a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			var recorder *metrics.Recorder
			if opts.metricsAddr != "" {
				recorder = metrics.NewRecorder()
				stop, err := serveMetrics(opts.metricsAddr, recorder, global)
				if err != nil {
					return err
				}
				defer stop()
			}

			client, err := global.openClient(ctx, opts.configPath, neuroevo.Options{Metrics: recorder})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			result, runErr := client.Run(ctx, neuroevo.RunRequest{
				ConfigPath:  opts.configPath,
				Task:        opts.task,
				Population:  opts.population,
				Topology:    opts.topology,
				Generations: opts.generations,
				Seed:        opts.seed,
				Runs:        opts.runs,
				SaveFirstN:  opts.saveFirstN,
				Elitist:     opts.elitist,
			})
			out := cmd.OutOrStdout()
			for _, summary := range result.Runs {
				fmt.Fprintf(out, "run_id=%s seed=%d generations=%d terminated=%t best_evaluation=%.6f saved=%d\n",
					summary.RunID, summary.Seed, summary.Generations, summary.Terminated,
					summary.BestEvaluation, len(summary.Saved))
			}
			if errors.Is(runErr, context.Canceled) {
				global.logger.Info("run interrupted")
				return nil
			}
			return runErr
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "run configuration (.ini, .cfg, .yaml or .yml)")
	flags.StringVar(&opts.task, "task", "", "task: xor or track")
	flags.IntVar(&opts.population, "pop", 0, "population size")
	flags.IntSliceVar(&opts.topology, "topology", nil, "layer sizes, e.g. 5,4,3,2")
	flags.IntVar(&opts.generations, "gens", 0, "generation cap per run")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed")
	flags.IntVar(&opts.runs, "runs", 0, "number of runs before exiting")
	flags.IntVar(&opts.saveFirstN, "save-first", 0, "save the first N genotypes that finish the task")
	flags.BoolVar(&opts.elitist, "elitist", false, "use top-three selection instead of remainder stochastic sampling")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// serveMetrics starts the /metrics endpoint and returns a function that shuts
// it down.
func serveMetrics(addr string, recorder *metrics.Recorder, global *globalOptions) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			global.logger.Error("metrics server stopped", "error", err)
		}
	}()
	global.logger.Info("serving metrics", "addr", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func newRunsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			client, err := global.openClient(cmd.Context(), "", neuroevo.Options{})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			runs, err := client.Runs(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tTASK\tSTARTED\tPOPULATION\tTOPOLOGY\tSEED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%d\n",
					run.ID, run.Task, run.StartedAt.Format(time.RFC3339), run.PopulationSize, run.Topology, run.Seed)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	var req neuroevo.HistoryRequest
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print per-generation scores of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			client, err := global.openClient(cmd.Context(), "", neuroevo.Options{})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			history, err := client.History(cmd.Context(), req)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GENERATION\tBEST FITNESS\tMEAN FITNESS\tMIN FITNESS\tBEST EVALUATION\tMEAN EVALUATION\tFINISHED")
			for _, s := range history {
				fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%d\n",
					s.Generation, s.BestFitness, s.MeanFitness, s.MinFitness, s.BestEvaluation, s.MeanEvaluation, s.Finished)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run to show")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "show the most recent run")
	return cmd
}

func newGenotypeCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genotype",
		Short: "Inspect and evaluate saved genotypes",
	}
	cmd.AddCommand(newGenotypeListCmd(global), newGenotypeShowCmd(global), newGenotypeEvalCmd(global))
	return cmd
}

func newGenotypeListCmd(global *globalOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved genotypes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			client, err := global.openClient(cmd.Context(), "", neuroevo.Options{})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			records, err := client.Genotypes(cmd.Context(), runID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRUN ID\tGENERATION\tEVALUATION\tPARAMETERS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%d\n", r.Name, r.RunID, r.Generation, r.Evaluation, len(r.Parameters))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "only genotypes saved by this run")
	return cmd
}

func newGenotypeShowCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a saved genotype in its text format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			client, err := global.openClient(cmd.Context(), "", neuroevo.Options{})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			record, ok, err := client.Genotype(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("genotype %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name: %s\n", record.Name)
			if record.RunID != "" {
				fmt.Fprintf(out, "run_id: %s\ngeneration: %d\n", record.RunID, record.Generation)
			}
			fmt.Fprintf(out, "evaluation: %g\nparameters: %d\n", record.Evaluation, len(record.Parameters))
			fmt.Fprintln(out, string(genotype.New(record.Parameters).Marshal()))
			return nil
		},
	}
}

func newGenotypeEvalCmd(global *globalOptions) *cobra.Command {
	var (
		req      neuroevo.EvaluateRequest
		topology []int
	)
	cmd := &cobra.Command{
		Use:   "eval <name>",
		Short: "Run a saved genotype through a task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			client, err := global.openClient(cmd.Context(), req.ConfigPath, neuroevo.Options{})
			if err != nil {
				return err
			}
			defer closeClient(client, &err)

			req.Name = args[0]
			req.Topology = topology
			evaluation, err := client.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			task := req.Task
			if task == "" {
				task = "configured task"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s evaluation on %s: %.6f\n", req.Name, strings.ToLower(task), evaluation)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.ConfigPath, "config", "", "run configuration supplying task, topology and activation")
	flags.StringVar(&req.Task, "task", "", "task: xor or track")
	flags.IntSliceVar(&topology, "topology", nil, "layer sizes, e.g. 2,2,1")
	flags.StringVar(&req.Activation, "activation", "", "activation function name")
	return cmd
}
