package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Measures the storage operations against the configured backend",
		Long: `Measures insert, get, update, get-all and delete of the selected representation (--type).
Every thread works on its own key, the keys are removed afterwards.`,
		PreRunE: processPerfConfig,
		RunE:    runPerf,
	}
	perfKeyPrefix = "__perf"
	perfThreads   = 10
	perfDocs      = 100
	perfRounds    = 10
	perfSkip      = map[string]bool{}
)

// perfOps are run in this order, each op depends on the state the previous one left behind
var perfOps = []string{"insert", "get", "update", "set-property", "get-all", "delete"}

func init() {
	perfCmd.Flags().String("skip", "", util.WrapString("Operations to skip (comma separated - e.g. update,get-all)"))
	perfCmd.Flags().Int("threads", 10, util.WrapString("Number of concurrent handles"))
	perfCmd.Flags().Int("docs", 100, util.WrapString("Documents per handle"))
	perfCmd.Flags().Int("rounds", 10, util.WrapString("How often every operation is repeated"))
	perfCmd.Flags().String("csv", "", util.WrapString("Optional path to save the results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	perfThreads = max(1, viper.GetInt("threads"))
	perfDocs = max(1, viper.GetInt("docs"))
	perfRounds = max(1, viper.GetInt("rounds"))
	for _, op := range strings.Split(viper.GetString("skip"), ",") {
		if op = strings.TrimSpace(op); op != "" {
			perfSkip[op] = true
		}
	}
	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for tkv")
	fmt.Println()
	fmt.Printf("Backend: %s, Type: %s, Policy: %s, Codec: %s\n",
		viper.GetString("backend"), viper.GetString("type"), svc.Policy(), viper.GetString("codec"))
	fmt.Printf("Threads: %d, Documents: %d, Rounds: %d\n", perfThreads, perfDocs, perfRounds)
	fmt.Println()

	registry := metrics.NewRegistry()
	ctx := cmd.Context()

	var wg sync.WaitGroup
	errs := make(chan error, perfThreads)
	for i := 0; i < perfThreads; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if err := perfWorker(ctx, registry, worker); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		failed++
		fmt.Printf("worker failed: %v\n", err)
	}

	for _, op := range perfOps {
		printTimer(op, registry.Get(op))
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, registry); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d workers failed", failed, perfThreads)
	}
	return nil
}

// perfWorker runs every operation perfRounds times on its own handle
func perfWorker(ctx context.Context, registry metrics.Registry, worker int) error {
	key := fmt.Sprintf("%s-%d", perfKeyPrefix, worker)
	h, err := open(key)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Clear(ctx); err != nil {
			fmt.Printf("(cleanup) - error clearing %s: %v\n", key, err)
		}
	}()

	docs := make([]*Document, perfDocs)
	for i := range docs {
		docs[i] = &Document{
			ID:     fmt.Sprintf("doc-%d", i),
			Fields: map[string]any{"counter": float64(0), "payload": strings.Repeat("x", 64)},
		}
	}

	steps := map[string]func(round int) error{
		"insert": func(int) error { return h.InsertMany(ctx, docs) },
		"get": func(round int) error {
			_, err := h.Get(ctx, docs[round%len(docs)].ID)
			return err
		},
		"update": func(round int) error {
			doc := docs[round%len(docs)]
			doc.Fields["counter"] = float64(round)
			return h.Update(ctx, doc)
		},
		"set-property": func(round int) error {
			_, err := h.UpdateProperty(ctx, docs[round%len(docs)].ID, "counter", float64(round))
			return err
		},
		"get-all": func(int) error {
			_, err := h.GetAll(ctx)
			return err
		},
		"delete": func(round int) error { return h.Delete(ctx, docs[round%len(docs)].ID) },
	}

	for _, op := range perfOps {
		if perfSkip[op] {
			continue
		}
		timer := metrics.GetOrRegisterTimer(op, registry)
		for round := 0; round < perfRounds; round++ {
			start := time.Now()
			if err := steps[op](round); err != nil {
				return fmt.Errorf("(%s) %w", op, err)
			}
			timer.UpdateSince(start)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printTimer prints the statistics of a timer in a formatted way
func printTimer(op string, m interface{}) {
	timer, ok := m.(metrics.Timer)
	if !ok || timer.Count() == 0 {
		fmt.Printf("%-14sskipped\n", op)
		return
	}
	s := timer.Snapshot()
	ps := s.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-14s%8d ops  mean %-12s p50 %-12s p99 %-12s %.0f ops/sec\n",
		op, s.Count(), time.Duration(s.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), opsPerSec(s))
}

// opsPerSec derives the throughput of all workers from the mean latency
func opsPerSec(s metrics.Timer) float64 {
	if s.Mean() <= 0 {
		return 0
	}
	return float64(perfThreads) * 1e9 / s.Mean()
}

// writeResultsToCSV writes the timer statistics to a CSV file
func writeResultsToCSV(csvPath string, registry metrics.Registry) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Op", "Count", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Backend", "Type", "Policy", "Codec", "Compression", "Serializer", "Transport",
		"Threads", "Docs", "Rounds",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	var ops []string
	registry.Each(func(name string, _ interface{}) { ops = append(ops, name) })
	sort.Strings(ops)

	for _, op := range ops {
		timer, ok := registry.Get(op).(metrics.Timer)
		if !ok {
			continue
		}
		s := timer.Snapshot()
		ps := s.Percentiles([]float64{0.5, 0.99})
		row := []string{
			op,
			strconv.FormatInt(s.Count(), 10),
			fmt.Sprintf("%.0f", s.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(s.Max(), 10),
			fmt.Sprintf("%.0f", opsPerSec(s)),
			viper.GetString("backend"),
			viper.GetString("type"),
			viper.GetString("policy"),
			viper.GetString("codec"),
			viper.GetString("compression"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfThreads),
			strconv.Itoa(perfDocs),
			strconv.Itoa(perfRounds),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for %s: %v", op, err)
		}
	}
	return nil
}
