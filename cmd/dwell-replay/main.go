// Command dwell-replay posts scripted event sequences to a dwell server and
// verifies the occupancy it reports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/dwell/internal/replay"
	"github.com/okian/dwell/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type runFlags struct {
	url       string
	file      string
	scenarios []string
	tolerance float64
	timeout   time.Duration
	stateKey  string
	jsonOut   bool
	verbose   bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dwell-replay",
		Short:        "Replay event scenarios against a dwell server",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios and check the reported occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "http://localhost:9080", "base URL of the server")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "YAML scenario file (default: built-in scenarios)")
	cmd.Flags().StringSliceVarP(&f.scenarios, "scenario", "s", nil, "built-in scenario names to run (default: all)")
	cmd.Flags().Float64Var(&f.tolerance, "tolerance", 1e-6, "allowed absolute ratio error")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	cmd.Flags().StringVar(&f.stateKey, "state-key", "attention_level", "argument key carrying the state label")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print reports as JSON")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log every scenario")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, sc := range replay.Builtin() {
				fmt.Fprintf(w, "%s\t%s\n", sc.Name, sc.Description)
			}
			return w.Flush()
		},
	}
}

func selectScenarios(f *runFlags) ([]replay.Scenario, error) {
	if f.file != "" {
		return replay.LoadFile(f.file)
	}
	if len(f.scenarios) == 0 {
		return replay.Builtin(), nil
	}
	out := make([]replay.Scenario, 0, len(f.scenarios))
	for _, name := range f.scenarios {
		sc, ok := replay.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, sc)
	}
	return out, nil
}

func runScenarios(ctx context.Context, out io.Writer, f *runFlags) error {
	if err := logger.Init(); err != nil {
		return err
	}
	if f.verbose {
		_ = logger.SetLevelString("debug")
	} else {
		_ = logger.SetLevelString("warn")
	}

	scenarios, err := selectScenarios(f)
	if err != nil {
		return err
	}

	runner := replay.NewRunner(f.url,
		replay.WithTolerance(f.tolerance),
		replay.WithStateKey(f.stateKey),
		replay.WithLogger(logger.Named("replay")),
		replay.WithHTTPClient(&http.Client{Timeout: f.timeout}),
	)
	reports, runErr := runner.RunAll(ctx, scenarios)

	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		printReports(out, reports)
	}
	return runErr
}

func printReports(out io.Writer, reports []replay.Report) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tSTEP\tSTATES\tEXPECTED\tGOT\tMODE\tRESULT")
	for _, rep := range reports {
		for _, c := range rep.Checks {
			result := "ok"
			if !c.Passed {
				result = "FAIL"
			}
			fmt.Fprintf(w, "%s\t%d\t%v\t%.6f\t%.6f\t%s\t%s\n",
				rep.Scenario, c.Step, c.Expected.States, c.Expected.Ratio, c.Ratio, c.Mode, result)
		}
	}
	_ = w.Flush()
}
