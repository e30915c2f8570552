// Package compare orchestrates the external song-comparison program: staging
// audio on disk, spawning the comparator process and interpreting its output.
// The acoustic alignment itself lives in the external program.
package compare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"guitar-practice/subproc"
	"guitar-practice/utils"
)

// Options are the tunable parameters forwarded to the comparator program.
// A zero SampleRate is sent as the "none" sentinel, letting the program
// auto-detect.
type Options struct {
	Hop         int
	Delta       float64
	MatchWindow float64
	SampleRate  int
}

// DefaultOptions mirrors the comparator script's own defaults.
func DefaultOptions() Options {
	return Options{
		Hop:         512,
		Delta:       0.07,
		MatchWindow: 0.25,
	}
}

// Scorer is the comparison boundary. The process-backed Comparator is the one
// real implementation; tests substitute fakes.
type Scorer interface {
	Compare(ctx context.Context, refPath, perfPath string, opts Options) (map[string]interface{}, error)
}

// Comparator shells out to the comparison script, one process per call.
type Comparator struct {
	python string
	script string
	runner subproc.Runner
}

// NewComparator resolves the interpreter and script from the environment.
func NewComparator(runner subproc.Runner) *Comparator {
	if runner == nil {
		runner = subproc.NewProcessRunner()
	}
	return &Comparator{
		python: utils.GetEnv("PYTHON_BIN", "python3"),
		script: utils.GetEnv("COMPARE_SCRIPT_PATH", filepath.Join("scripts", "compare_songs.py")),
		runner: runner,
	}
}

// Compare runs the external comparator over the two audio files and returns
// the normalized result map.
func (c *Comparator) Compare(ctx context.Context, refPath, perfPath string, opts Options) (map[string]interface{}, error) {
	for _, path := range []string{refPath, perfPath} {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("audio file missing: %s", path)
		}
		if info.Size() == 0 {
			return nil, fmt.Errorf("audio file empty: %s", path)
		}
	}

	args := buildArgs(c.script, refPath, perfPath, opts)
	stdout, stderr, exitCode, err := c.runner.Run(ctx, nil, c.python, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run comparator: %w", err)
	}

	outcome := ParseOutput(stdout, stderr, exitCode)
	switch outcome.Kind {
	case OutcomeStructured, OutcomeTextReport:
		return outcome.Results, nil
	default:
		return nil, fmt.Errorf("%s", outcome.Message)
	}
}

func buildArgs(script, refPath, perfPath string, opts Options) []string {
	sr := "none"
	if opts.SampleRate > 0 {
		sr = strconv.Itoa(opts.SampleRate)
	}
	return []string{
		script,
		"--ref", refPath,
		"--perf", perfPath,
		"--hop", strconv.Itoa(opts.Hop),
		"--delta", strconv.FormatFloat(opts.Delta, 'g', -1, 64),
		"--match_window", strconv.FormatFloat(opts.MatchWindow, 'g', -1, 64),
		"--sr", sr,
	}
}
