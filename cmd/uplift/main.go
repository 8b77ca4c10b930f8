package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fab-analytics/uplift/internal/dataset"
	"github.com/fab-analytics/uplift/internal/eventtime"
	"github.com/fab-analytics/uplift/internal/impute"
	"github.com/fab-analytics/uplift/internal/pipeline"
	"github.com/fab-analytics/uplift/internal/store"
	"github.com/fab-analytics/uplift/internal/synth"
)

var (
	// Global flags
	outPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uplift",
		Short: "Utilization-normalized uplift analysis for staggered tool upgrades",
		Long: `Estimates the causal effect of a staggered tool upgrade on failure rates,
normalizing for utilization: survival models on work between failures,
a difference-in-differences count model, and a dynamic event study.`,
	}

	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(synthCmd())
	rootCmd.AddCommand(imputeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd fits all three models on a dataset and emits the JSON report
func runCmd() *cobra.Command {
	var (
		inputPath  string
		pgConn     string
		synthetic  bool
		seed       int64
		windowPre  int
		windowPost int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis and emit a JSON report",
		Long: `Loads a dataset from a JSON file, a Postgres warehouse, or the synthetic
generator, fits the duration, rate, and event-study models, and writes
the report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var ds *dataset.Dataset
			switch {
			case synthetic:
				cfg := synth.DefaultConfig()
				cfg.Seed = seed
				generated, err := synth.Generate(cfg)
				if err != nil {
					return fmt.Errorf("failed to generate dataset: %w", err)
				}
				ds = generated
			case inputPath != "":
				loaded, err := loadDataset(inputPath)
				if err != nil {
					return fmt.Errorf("failed to load dataset: %w", err)
				}
				ds = loaded
			case pgConn != "":
				src, err := store.NewPostgresSource(ctx, pgConn)
				if err != nil {
					return fmt.Errorf("failed to connect: %w", err)
				}
				defer src.Close()
				loaded, err := src.Load(ctx)
				if err != nil {
					return fmt.Errorf("failed to load dataset: %w", err)
				}
				ds = loaded
			default:
				return fmt.Errorf("one of --input, --postgres, or --synthetic is required")
			}

			opts := pipeline.DefaultOptions()
			enc, err := eventtime.NewEncoder(windowPre, windowPost, -1)
			if err != nil {
				return fmt.Errorf("invalid event-study window: %w", err)
			}
			opts.Encoder = enc

			report, err := pipeline.Run(ctx, ds, opts)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			return writeJSON(report)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Dataset JSON file")
	cmd.Flags().StringVar(&pgConn, "postgres", "", "Postgres connection string")
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "Use a default synthetic dataset")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed for --synthetic")
	cmd.Flags().IntVar(&windowPre, "window-pre", 6, "Event-study pre-adoption window (months)")
	cmd.Flags().IntVar(&windowPost, "window-post", 6, "Event-study post-adoption window (months)")

	return cmd
}

// synthCmd generates a synthetic dataset for pipeline shakeout
func synthCmd() *cobra.Command {
	cfg := synth.DefaultConfig()
	var startStr string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic fleet dataset",
		Long: `Generates a reproducible synthetic dataset: a fleet of tools with
heterogeneous capacity, staggered upgrade adoption, and a failure process
whose rate drops by the configured effect size after adoption.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if startStr != "" {
				t, err := time.Parse("2006-01-02", startStr)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				cfg.Start = t
			}

			ds, err := synth.Generate(cfg)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if verbose {
				fmt.Fprintf(os.Stderr, "generated %d exposure records, %d events, %d adopters (fingerprint %s)\n",
					len(ds.Exposure), len(ds.Events), len(ds.Adoptions), ds.Fingerprint())
			}
			return writeJSON(ds)
		},
	}

	cmd.Flags().IntVar(&cfg.Tools, "tools", cfg.Tools, "Number of tools in the fleet")
	cmd.Flags().IntVar(&cfg.Days, "days", cfg.Days, "Observation window in days")
	cmd.Flags().StringVar(&startStr, "start", "", "Window start date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&cfg.TreatedShare, "treated-share", cfg.TreatedShare, "Fraction of tools that adopt")
	cmd.Flags().Float64Var(&cfg.EffectSize, "effect", cfg.EffectSize, "Post-adoption failure rate multiplier")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")

	return cmd
}

// imputeCmd fills production gaps from a proxy series
func imputeCmd() *cobra.Command {
	var (
		productionPath string
		proxyPath      string
	)

	cmd := &cobra.Command{
		Use:   "impute",
		Short: "Impute missing monthly production from a proxy series",
		Long: `Learns a per-entity proxy-to-production coefficient on months where
both are observed and fills the months where only the proxy exists.
Entities with no overlap fall back to the fleet-median coefficient.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			production, err := loadMonthly(productionPath)
			if err != nil {
				return fmt.Errorf("failed to load production: %w", err)
			}
			proxy, err := loadMonthly(proxyPath)
			if err != nil {
				return fmt.Errorf("failed to load proxy: %w", err)
			}

			result, err := impute.Estimate(production, proxy)
			if err != nil {
				return fmt.Errorf("imputation failed: %w", err)
			}

			if verbose {
				fmt.Fprintf(os.Stderr, "imputed %d of %d months (global coefficient %.4f)\n",
					result.ImputedCount, len(result.Rows), result.GlobalCoefficient)
			}
			return writeJSON(result)
		},
	}

	cmd.Flags().StringVar(&productionPath, "production", "", "Observed production JSON file")
	cmd.Flags().StringVar(&proxyPath, "proxy", "", "Proxy series JSON file")
	cmd.MarkFlagRequired("production")
	cmd.MarkFlagRequired("proxy")

	return cmd
}

func loadDataset(path string) (*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds dataset.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &ds, nil
}

func loadMonthly(path string) ([]impute.MonthlyValue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vals []impute.MonthlyValue
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return vals, nil
}

func writeJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0644)
}
