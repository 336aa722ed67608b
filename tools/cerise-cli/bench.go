package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	benchOps       int
	benchWorkers   int
	benchValueSize int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a SET/GET throughput benchmark against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		payload := make([]byte, benchValueSize)
		if _, err = rand.Read(payload); err != nil {
			return err
		}
		value := string(payload)

		registry := metrics.NewRegistry()
		opRate := metrics.GetOrRegisterMeter("op-rate", registry)
		opLatency := metrics.GetOrRegisterHistogram("op-latency-in-us", registry,
			metrics.NewExpDecaySample(1028, 0.015))

		done := make(chan struct{})
		go printProgress(cmd.OutOrStderr(), opRate, done)

		start := time.Now()
		var group errgroup.Group
		for w := 0; w < benchWorkers; w++ {
			worker := w
			group.Go(func() error {
				key := fmt.Sprintf("cerise-bench-%d", worker)
				for i := 0; i < benchOps; i++ {
					opStart := time.Now()
					if i%2 == 0 {
						if err := client.Set(key, value); err != nil {
							return err
						}
					} else {
						if _, err := client.Get(key); err != nil {
							return err
						}
					}
					opRate.Mark(1)
					opLatency.Update(time.Since(opStart).Microseconds())
				}
				_, err := client.Del(key)
				return err
			})
		}
		err = group.Wait()
		close(done)
		if err != nil {
			return err
		}

		elapsed := time.Since(start)
		total := int64(benchWorkers) * int64(benchOps)
		snapshot := opLatency.Snapshot()
		fmt.Printf("%d ops across %d workers in %v (%.1f ops/sec)\n",
			total, benchWorkers, elapsed.Round(time.Millisecond),
			float64(total)/elapsed.Seconds())
		fmt.Printf("latency us: p50=%d p95=%d p99=%d max=%d\n",
			int64(snapshot.Percentile(0.5)), int64(snapshot.Percentile(0.95)),
			int64(snapshot.Percentile(0.99)), snapshot.Max())
		return nil
	},
}

func printProgress(out io.Writer, opRate metrics.Meter, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(out, "%d ops, %.1f ops/sec\n", opRate.Count(), opRate.RateMean())
		case <-done:
			return
		}
	}
}

func init() {
	benchCmd.Flags().IntVar(&benchOps, "ops", 10000, "operations per worker")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 4, "concurrent workers")
	benchCmd.Flags().IntVar(&benchValueSize, "value-size", 128, "approximate value size in bytes")
}
