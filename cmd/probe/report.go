package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"latency-probe/internal/metrics"
	"latency-probe/internal/probe"
)

func printSample(sample probe.Sample) {
	fmt.Printf("Probe %d: RTT=%.3f ms, Reply=%q\n", sample.Seq, sample.RTTMillis(), sample.Reply)
}

// printSummary prints a summary of the probe run
func printSummary(report *probe.Report, global *metrics.GlobalStats) {
	fmt.Println("\n=== Probe Results ===")
	fmt.Printf("Target: %s (%s, %s)\n", report.Target, report.Network, report.Mode)
	fmt.Printf("Duration: %s\n", report.EndTime.Sub(report.StartTime))
	fmt.Printf("Sent: %d\n", report.Sent)
	fmt.Printf("Received: %d\n", report.Received)
	fmt.Printf("Timed Out: %d\n", report.TimedOut)
	fmt.Printf("Failed: %d\n", report.Failed)
	fmt.Printf("Stale Replies: %d\n", report.Stale)
	fmt.Printf("Late Replies: %d\n", report.Late)
	fmt.Printf("Loss: %.2f%%\n", report.LossRatio()*100)

	if report.Received > 0 {
		fmt.Printf("\nLatency Metrics:\n")
		fmt.Printf("  Min: %v\n", report.MinRTT)
		fmt.Printf("  Max: %v\n", report.MaxRTT)
		fmt.Printf("  Avg: %v\n", report.AvgRTT)
		fmt.Printf("  RTT p50: %.3f ms\n", global.P50Latency)
		fmt.Printf("  RTT p95: %.3f ms\n", global.P95Latency)
		fmt.Printf("  RTT p99: %.3f ms\n", global.P99Latency)
	}
}

// saveReport writes the report as indented JSON, creating the directory
// when needed.
func saveReport(path string, report *probe.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
