package accel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/levelkv/cmd/util"
	storetesting "github.com/ValentinKolb/levelkv/lib/store/testing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the accelerator",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	perfNumThreads = viper.GetInt("threads")
	if skip := viper.GetString("skip"); skip != "" {
		perfSkip = strings.Split(strings.ToLower(skip), ",")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the levelkv accelerator")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(accelConfig.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range storetesting.Benchmarks {
		if slices.Contains(perfSkip, strings.ToLower(bm.Name)) {
			printResult(bm.Name, testing.BenchmarkResult{})
			continue
		}
		result := testing.Benchmark(func(b *testing.B) {
			b.SetParallelism(perfNumThreads)
			bm.Run(b, accelStore)
		})
		results[bm.Name] = result
		printResult(bm.Name, result)
	}

	info, err := accelEngine.Info()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(info.String())

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Level", "CacheSize", "Partitions", "Hasher", "Transport", "Codec", "Threads",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, bm := range storetesting.Benchmarks {
		result, ok := results[bm.Name]
		if !ok {
			continue
		}
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			bm.Name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strconv.FormatUint(accelConfig.Level, 10),
			strconv.Itoa(accelConfig.CacheSize),
			strconv.Itoa(accelConfig.Partitions),
			accelConfig.Hasher,
			viper.GetString("transport"),
			viper.GetString("codec"),
			strconv.Itoa(perfNumThreads),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", bm.Name, err)
		}
	}
	return nil
}
