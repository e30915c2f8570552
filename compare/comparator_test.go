package compare

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeRunner struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	err      error
	gotName  string
	gotArgs  []string
}

func (f *fakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, int, error) {
	f.gotName = name
	f.gotArgs = args
	return f.stdout, f.stderr, f.exitCode, f.err
}

func writeAudioFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestBuildArgsSampleRateSentinel(t *testing.T) {
	t.Parallel()

	args := buildArgs("compare.py", "ref.wav", "perf.wav", Options{Hop: 512, Delta: 0.07, MatchWindow: 0.25})
	want := []string{
		"compare.py",
		"--ref", "ref.wav",
		"--perf", "perf.wav",
		"--hop", "512",
		"--delta", "0.07",
		"--match_window", "0.25",
		"--sr", "none",
	}
	if len(args) != len(want) {
		t.Fatalf("args length = %d, want %d (%v)", len(args), len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildArgsExplicitSampleRate(t *testing.T) {
	t.Parallel()

	args := buildArgs("compare.py", "a", "b", Options{Hop: 256, Delta: 0.1, MatchWindow: 0.5, SampleRate: 22050})
	if args[len(args)-1] != "22050" {
		t.Errorf("sr argument = %q, want 22050", args[len(args)-1])
	}
}

func TestComparatorRejectsMissingFiles(t *testing.T) {
	t.Parallel()

	comparator := NewComparator(&fakeRunner{})
	_, err := comparator.Compare(context.Background(), "/nonexistent/ref.wav", "/nonexistent/perf.wav", DefaultOptions())
	if err == nil {
		t.Fatal("expected error for missing audio files")
	}
}

func TestComparatorStructuredSuccess(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		stdout: []byte("log line\n===JSON_OUTPUT===\n" +
			`{"success": true, "results": {"matched_notes": 9}}` +
			"\n===END_JSON===\n"),
	}
	comparator := NewComparator(runner)

	ref := writeAudioFixture(t, "ref.wav")
	perf := writeAudioFixture(t, "perf.wav")

	results, err := comparator.Compare(context.Background(), ref, perf, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if results["matched_notes"] != float64(9) {
		t.Errorf("matched_notes = %v, want 9", results["matched_notes"])
	}
	if len(runner.gotArgs) == 0 || runner.gotArgs[len(runner.gotArgs)-1] != "none" {
		t.Errorf("expected sr sentinel in args, got %v", runner.gotArgs)
	}
}

func TestComparatorNonZeroExitBecomesError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stderr: []byte("Traceback"), exitCode: 1}
	comparator := NewComparator(runner)

	ref := writeAudioFixture(t, "ref.wav")
	perf := writeAudioFixture(t, "perf.wav")

	_, err := comparator.Compare(context.Background(), ref, perf, DefaultOptions())
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}
