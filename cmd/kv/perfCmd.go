package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/ValentinKolb/keybox/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfLog = logger.GetLogger("cli")

	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for the configured database",
		Long: util.WrapString("Runs a set of benchmarks against an in-memory database. Pass --storage " +
			"explicitly to benchmark a persistent configuration, the benchmark keys are removed afterward " +
			"but every committed write rewrites that snapshot."),
		PersistentPreRunE: openPerfDB,
		RunE:              run,
		PreRunE:           processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. add,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the update-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// openPerfDB opens the database for the benchmarks. Without an explicit --storage flag
// the benchmarks never touch the configured snapshot.
func openPerfDB(cmd *cobra.Command, args []string) error {
	if f := cmd.Flags().Lookup("storage"); f == nil || !f.Changed {
		viper.Set("storage", string(common.StorageMemory))
	}
	return openDB(cmd, args)
}

// benchmark is one named perf test
type benchmark struct {
	name string
	fn   func(b *testing.B)
}

func run(_ *cobra.Command, _ []string) error {
	config := util.GetEngineConfig()

	fmt.Println("Performance testing tool for keybox")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	benchmarks := []benchmark{
		{"add", benchmarkAdd},
		{"update", benchmarkUpdate},
		{"update-large", benchmarkUpdateLarge},
		{"get", benchmarkGet},
		{"get-not", benchmarkGetNot},
		{"delete", benchmarkDelete},
		{"transaction", benchmarkTransaction},
		{"mixed", benchmarkMixed},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		var result testing.BenchmarkResult
		if !shouldSkip(bm.name) {
			result = testing.Benchmark(bm.fn)
		}
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, &config); err != nil {
			return err
		}
		fmt.Println("Results exported successfully")
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func benchmarkAdd(b *testing.B) {
	var counter atomic.Int64
	prefix := fmt.Sprintf("%s-add-%d", perfKeyPrefix, time.Now().UnixNano())

	b.Cleanup(func() {
		for i := int64(1); i <= counter.Load(); i++ {
			_ = kvDB.Delete(fmt.Sprintf("%s-%d", prefix, i))
		}
	})

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("%s-%d", prefix, counter.Add(1))
			if err := kvDB.Add(key, "test"); err != nil {
				perfLog.Warningf("(add) - error adding key: %v", err)
			}
		}
	})
}

func benchmarkUpdate(b *testing.B) {
	getKey, iter := getKeys("update")
	iter(func(k string) { _ = kvDB.Add(k, "test") })
	b.Cleanup(func() { iter(func(k string) { _ = kvDB.Delete(k) }) })

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := kvDB.Update(getKey(counter), "updated"); err != nil {
				perfLog.Warningf("(update) - error updating key: %v", err)
			}
			counter++
		}
	})
}

func benchmarkUpdateLarge(b *testing.B) {
	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	getKey, iter := getKeys("update-large")
	iter(func(k string) { _ = kvDB.Add(k, "test") })
	b.Cleanup(func() { iter(func(k string) { _ = kvDB.Delete(k) }) })

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := kvDB.Update(getKey(counter), largeValue); err != nil {
				perfLog.Warningf("(update-large) - error updating key: %v", err)
			}
			counter++
		}
	})
}

func benchmarkGet(b *testing.B) {
	getKey, iter := getKeys("get")
	iter(func(k string) { _ = kvDB.Add(k, "test") })
	b.Cleanup(func() { iter(func(k string) { _ = kvDB.Delete(k) }) })

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, err := kvDB.Get(getKey(counter)); err != nil {
				perfLog.Warningf("(get) - error getting key: %v", err)
			}
			counter++
		}
	})
}

func benchmarkGetNot(b *testing.B) {
	getKey, _ := getKeys("get-not")

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _ = kvDB.Get(getKey(counter))
			counter++
		}
	})
}

func benchmarkDelete(b *testing.B) {
	prefix := fmt.Sprintf("%s-delete-%d", perfKeyPrefix, time.Now().UnixNano())
	for i := 0; i < b.N; i++ {
		_ = kvDB.Add(fmt.Sprintf("%s-%d", prefix, i), "test")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := kvDB.Delete(fmt.Sprintf("%s-%d", prefix, i)); err != nil {
			perfLog.Warningf("(delete) - error deleting key: %v", err)
		}
	}
}

// transactions are exclusive, so this benchmark runs on one goroutine
func benchmarkTransaction(b *testing.B) {
	prefix := fmt.Sprintf("%s-transaction-%d", perfKeyPrefix, time.Now().UnixNano())
	key := func(i, j int) string { return fmt.Sprintf("%s-%d-%d", prefix, i, j) }
	committed := 0

	b.Cleanup(func() {
		if err := kvDB.BeginTransaction(); err != nil {
			return
		}
		for i := 0; i < committed; i++ {
			for j := 0; j < 10; j++ {
				_ = kvDB.Delete(key(i, j))
			}
		}
		_ = kvDB.CommitTransaction()
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := kvDB.BeginTransaction(); err != nil {
			perfLog.Warningf("(transaction) - error beginning transaction: %v", err)
			continue
		}
		for j := 0; j < 10; j++ {
			_ = kvDB.Add(key(i, j), "test")
		}
		if err := kvDB.CommitTransaction(); err != nil {
			perfLog.Warningf("(transaction) - error committing transaction: %v", err)
			continue
		}
		committed = i + 1
	}
}

func benchmarkMixed(b *testing.B) {
	getKey, iter := getKeys("mixed")
	iter(func(k string) { _ = kvDB.AddE(k, "test", time.Minute) })
	b.Cleanup(func() { iter(func(k string) { _ = kvDB.Delete(k) }) })

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := getKey(counter)
			switch counter % 10 {
			case 0, 1:
				if err := kvDB.Update(key, "updated"); err != nil {
					_ = kvDB.AddE(key, "test", time.Minute)
				}
			case 2:
				_ = kvDB.Delete(key)
			default:
				_, _ = kvDB.Get(key)
			}
			counter++
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.EngineConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Storage", "Serializer", "Compression", "ReaperInterval",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	// Write test results in a stable order
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, test := range names {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"

		if result.N > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			string(config.Storage),
			config.Serializer,
			config.Compression,
			config.ReaperInterval.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %w", test, err)
		}
	}

	return nil
}
