// Command rentauth-perfcheck compares two `go test -bench` outputs and fails
// when a tracked benchmark regressed past the threshold.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	rentauth-perfcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultThreshold = 0.30

// check is one tracked metric. A negative limit defers to -threshold.
type check struct {
	unit  string
	limit float64
}

// plan maps benchmark names to the metrics gated for them.
type plan map[string][]check

// Authorize runs on every request, so its allocations are held tighter than
// its wall time. Login is dominated by argon2; its B/op moves only when the
// password cost parameters change.
var defaultPlan = plan{
	"BenchmarkAuthorizeSnapshot": {{"ns/op", -1}, {"allocs/op", 0.10}},
	"BenchmarkAuthorizeLive":     {{"ns/op", -1}, {"allocs/op", 0.10}},
	"BenchmarkRefresh":           {{"ns/op", -1}},
	"BenchmarkLogin":             {{"B/op", 0.05}},
}

// trackFlag collects repeated -track Name:unit[:limit] values.
type trackFlag struct{ p plan }

func (f *trackFlag) String() string { return "" }

func (f *trackFlag) Set(v string) error {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return errors.New("want Name:unit[:limit]")
	}
	c := check{unit: parts[1], limit: -1}
	if len(parts) == 3 {
		limit, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || limit < 0 {
			return fmt.Errorf("bad limit %q", parts[2])
		}
		c.limit = limit
	}
	if f.p == nil {
		f.p = plan{}
	}
	f.p[parts[0]] = append(f.p[parts[0]], c)
	return nil
}

type sampleSet map[string]map[string][]float64

type row struct {
	benchmark string
	unit      string
	baseline  float64
	candidate float64
	delta     float64
	limit     float64
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
		track         trackFlag
	)

	flag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	flag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	flag.Float64Var(&threshold, "threshold", defaultThreshold, "default allowed regression ratio (0.30 = +30%)")
	flag.Var(&track, "track", "Name:unit[:limit] to gate; repeatable, replaces the built-in set")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}
	p := defaultPlan
	if track.p != nil {
		p = track.p
	}

	baseline, err := parseBenchmarkFile(baselinePath, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseBenchmarkFile(candidatePath, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	rows, failures := compare(baseline, candidate, p, threshold)
	printRows(os.Stdout, rows)

	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		os.Exit(1)
	}
}

func printRows(w io.Writer, rows []row) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "benchmark\tmetric\tbaseline\tcandidate\tdelta\tlimit\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.2f%%\t%+.0f%%\t\n", r.benchmark, r.unit, r.baseline, r.candidate, r.delta*100, r.limit*100)
	}
	tw.Flush()
}

// compare checks every tracked metric in a stable order. Missing samples
// count as failures so a renamed benchmark cannot silently drop out.
func compare(baseline, candidate sampleSet, p plan, threshold float64) ([]row, []string) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		rows     []row
		failures []string
	)
	for _, benchmark := range names {
		for _, c := range p[benchmark] {
			limit := c.limit
			if limit < 0 {
				limit = threshold
			}
			baseSamples := baseline[benchmark][c.unit]
			candidateSamples := candidate[benchmark][c.unit]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, c.unit))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				if candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s grew from zero to %.3f", benchmark, c.unit, candidateMedian))
				}
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			rows = append(rows, row{benchmark, c.unit, baseMedian, candidateMedian, delta, limit})
			if delta > limit {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+.2f%% (limit %+.2f%%)", benchmark, c.unit, delta*100, limit*100))
			}
		}
	}
	return rows, failures
}

func parseBenchmarkFile(path string, p plan) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file, p)
}

func parseBenchmarks(r io.Reader, p plan) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := p[name]; !ok {
			continue
		}

		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			samples[name][unit] = append(samples[name][unit], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}
