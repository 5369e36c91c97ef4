package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common/benchmark"
	"github.com/lowlevelkv/kvengine/kv"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		quick       bool
		workload    string
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "kvengine-benchmark",
		Short: "Drives workloads against the embedded key-value store and reports throughput and latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmarkSuite(quick, workload, duration, concurrency, cmd.Flags().Changed("duration"), cmd.Flags().Changed("concurrency"))
		},
	}

	cmd.Flags().BoolVar(&quick, "quick", false, "run quick workloads (shorter duration, smaller datasets)")
	cmd.Flags().StringVar(&workload, "workload", "all", "workload to run (all, or one of the configured scenario names)")
	cmd.Flags().DurationVar(&duration, "duration", 60*time.Second, "override the duration of each workload")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "override the number of concurrent workers")
	return cmd
}

func runBenchmarkSuite(quick bool, workload string, duration time.Duration, concurrency int, durationSet, concurrencySet bool) error {
	fmt.Println("kvengine Benchmark Suite")
	fmt.Println("========================")
	fmt.Printf("Workload:    %s\n", workload)
	fmt.Printf("Duration:    %v\n", duration)
	fmt.Printf("Concurrency: %d\n\n", concurrency)

	var configs []benchmark.Config
	if quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}

	if durationSet {
		for i := range configs {
			configs[i].Duration = duration
		}
	}
	if concurrencySet {
		for i := range configs {
			configs[i].Concurrency = concurrency
		}
	}

	if workload != "all" {
		filtered := make([]benchmark.Config, 0, 1)
		for _, config := range configs {
			if config.Name == workload {
				filtered = append(filtered, config)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("unknown workload: %s", workload)
		}
		configs = filtered
	}

	dir, err := os.MkdirTemp("", "kvengine-benchmark-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	log := zap.NewNop()
	db, err := kv.Load(kv.DefaultOptions(dir+"/bench"), log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results := runBenchmarks(db, configs)
	printSummaryTable(results)
	return nil
}

func runBenchmarks(db *kv.DB, configs []benchmark.Config) []*benchmark.Result {
	results := make([]*benchmark.Result, 0, len(configs))

	for _, config := range configs {
		fmt.Printf("\n=== Running: %s ===\n", config.Name)

		bench := benchmark.NewBenchmark(db, config)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("benchmark failed: %v\n", err)
			continue
		}

		results = append(results, result)
		printResult(result)
	}

	return results
}

func printResult(r *benchmark.Result) {
	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("Total Ops: %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("\nWrite Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.WriteLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.WriteLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.WriteLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.WriteLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.WriteLatency.P99)
		fmt.Printf("  P999: %8s\n", r.WriteLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.WriteLatency.Max)
	}

	if r.ReadOps > 0 {
		fmt.Printf("\nRead Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.ReadLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.ReadLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.ReadLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.ReadLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.ReadLatency.P99)
		fmt.Printf("  P999: %8s\n", r.ReadLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.ReadLatency.Max)
	}

	fmt.Printf("\nAmplification:\n")
	fmt.Printf("  Write: %.2fx\n", r.WriteAmplification)
	fmt.Printf("  Space: %.2fx\n", r.SpaceAmplification)
	fmt.Printf("\nDisk Usage: %.1f MB\n", r.TotalDiskMB)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf("\n%-25s %12s %12s %12s %12s\n", "Workload", "Throughput", "Write P99", "Read P99", "Write Amp")
	fmt.Println(strings.Repeat("-", 80))

	for _, r := range results {
		writeP99 := "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}

		readP99 := "N/A"
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}

		fmt.Printf("%-25s %10.0f/s %12s %12s %11.2fx\n",
			r.Config.Name, r.OpsPerSec, writeP99, readP99, r.WriteAmplification)
	}
}
