// Package main provides a performance benchmarking tool for the orgpulse CLI.
// For each repository it times a cold extract into an empty SQLite database,
// incremental re-extracts, a forced aggregation and incremental aggregations,
// then writes the timings to a CSV file.
//
// Prerequisites:
// - orgpulse binary installed and available in PATH
// - Test repositories cloned to the specified base directory
//
// Usage: go run benchmark/main.go [repo-base-dir] [repo...]
//
//	repo-base-dir: Directory containing test repositories
//	repo:          Repository directory names (default: csv-parser fd git)
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// BenchmarkResult holds the timings of one stage on one repository.
type BenchmarkResult struct {
	Repository string
	Stage      string
	ColdTime   string
	WarmTime   string
}

// BenchmarkConfig holds configuration for the benchmark run.
type BenchmarkConfig struct {
	RepoBase  string
	Timeout   time.Duration
	WarmRuns  int
	TestRepos []string
}

// stage is one timed CLI invocation; the cold args run first, the warm args after.
type stage struct {
	name string
	cold []string
	warm []string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("Usage: %s [repo-base-dir] [repo...]\n", os.Args[0])
		os.Exit(1)
	}

	config := BenchmarkConfig{
		RepoBase:  os.Args[1],
		Timeout:   10 * time.Minute,
		WarmRuns:  3,
		TestRepos: []string{"csv-parser", "fd", "git"},
	}
	if len(os.Args) > 2 {
		config.TestRepos = os.Args[2:]
	}

	if err := checkPrerequisites(config); err != nil {
		fmt.Printf("Prerequisites check failed: %v\n", err)
		os.Exit(1)
	}

	results := runBenchmarks(config)

	if err := saveResults(results); err != nil {
		fmt.Printf("Failed to save results: %v\n", err)
		os.Exit(1)
	}

	printSummary(results)
}

// checkPrerequisites verifies that the orgpulse binary and test repositories exist
func checkPrerequisites(config BenchmarkConfig) error {
	if _, err := exec.LookPath("orgpulse"); err != nil {
		return fmt.Errorf("orgpulse binary not found in PATH")
	}
	for _, repo := range config.TestRepos {
		repoPath := filepath.Join(config.RepoBase, repo)
		if _, err := os.Stat(repoPath); os.IsNotExist(err) {
			return fmt.Errorf("repository %s not found at %s", repo, repoPath)
		}
	}
	return nil
}

// runBenchmarks executes every stage against a fresh database per repository
func runBenchmarks(config BenchmarkConfig) []BenchmarkResult {
	var results []BenchmarkResult

	fmt.Printf("Starting benchmark: %d repos, %v timeout, %d warm runs\n",
		len(config.TestRepos), config.Timeout, config.WarmRuns)

	for _, repo := range config.TestRepos {
		fmt.Printf("Benchmarking %s\n", repo)

		dbDir, err := os.MkdirTemp("", "orgpulse-bench-*")
		if err != nil {
			fmt.Printf("  Skipping: %v\n", err)
			continue
		}
		env := []string{
			"ORGPULSE_DB_BACKEND=sqlite",
			"ORGPULSE_DB_CONNECT=" + filepath.Join(dbDir, "bench.db"),
		}

		repoPath := filepath.Join(config.RepoBase, repo)
		stages := []stage{
			{name: "extract", cold: []string{"extract", repoPath}, warm: []string{"extract", repoPath}},
			{name: "resolve", cold: []string{"identities", "resolve"}, warm: []string{"identities", "resolve", "--dry-run"}},
			{name: "aggregate", cold: []string{"aggregate", "--force"}, warm: []string{"aggregate"}},
		}
		for _, s := range stages {
			results = append(results, runStage(config, env, repo, s))
		}

		_ = os.RemoveAll(dbDir)
	}

	return results
}

// runStage times one cold run and the configured number of warm runs
func runStage(config BenchmarkConfig, env []string, repo string, s stage) BenchmarkResult {
	fmt.Printf("  %s\n", s.name)

	result := BenchmarkResult{Repository: repo, Stage: s.name, ColdTime: "FAILED", WarmTime: "FAILED"}
	if cold, ok := timeCommand(config, env, s.cold); ok {
		result.ColdTime = fmt.Sprintf("%.3fs", cold)
	}

	var sum float64
	var n int
	for range config.WarmRuns {
		if warm, ok := timeCommand(config, env, s.warm); ok {
			sum += warm
			n++
		}
	}
	if n > 0 {
		result.WarmTime = fmt.Sprintf("%.3fs", sum/float64(n))
	}

	fmt.Printf("    Cold: %s, Warm average: %s\n", result.ColdTime, result.WarmTime)
	return result
}

// timeCommand runs orgpulse once and reports the wall time when it succeeds in time
func timeCommand(config BenchmarkConfig, env, args []string) (float64, bool) {
	start := time.Now()

	cmd := exec.Command("orgpulse", append(args, "--output", "json")...)
	cmd.Env = append(os.Environ(), env...)

	done := make(chan error, 1)
	go func() {
		_, err := cmd.Output()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return 0, false
		}
		return time.Since(start).Seconds(), true
	case <-time.After(config.Timeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return 0, false
	}
}

// saveResults writes benchmark results to a timestamped CSV file
func saveResults(results []BenchmarkResult) error {
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(os.TempDir(), fmt.Sprintf("orgpulse_benchmark_%s.csv", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close file %s: %v\n", filename, closeErr)
		}
	}()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"repo", "stage", "cold_time", "warm_avg"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, result := range results {
		if err := writer.Write([]string{result.Repository, result.Stage, result.ColdTime, result.WarmTime}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	fmt.Printf("Results saved to %s\n", filename)
	return nil
}

// printSummary displays the final benchmark results grouped by stage
func printSummary(results []BenchmarkResult) {
	fmt.Printf("Benchmark complete\n")
	for _, name := range []string{"extract", "resolve", "aggregate"} {
		fmt.Printf("%s:\n", name)
		for _, result := range results {
			if result.Stage == name {
				fmt.Printf("  %-12s: Cold: %s, Warm: %s\n", result.Repository, result.ColdTime, result.WarmTime)
			}
		}
	}
}
