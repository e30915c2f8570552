// Package aipractice scores practice takes through a pair of external Python
// programs: one extracting a fixed feature vector from audio, one running the
// regression+classification model pair. JSON rides on stdin/stdout; the
// programs themselves are out of scope.
package aipractice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"guitar-practice/models"
	"guitar-practice/subproc"
	"guitar-practice/utils"
)

// FeatureScorer is the inference boundary; tests swap in fakes.
type FeatureScorer interface {
	ExtractFeatures(ctx context.Context, audioPath string) (map[string]float64, error)
	Score(ctx context.Context, features map[string]float64, meta map[string]string) (*models.ScoreSet, error)
}

// Bridge runs the two external programs. All five on-disk artifacts are
// verified at construction; a missing artifact is a startup error, never a
// per-request one.
type Bridge struct {
	python              string
	extractScript       string
	inferScript         string
	configPath          string
	regressionModel     string
	classificationModel string
	sampleRate          string

	runner subproc.Runner
}

// NewBridge resolves artifact paths from the environment and verifies each
// exists on disk.
func NewBridge(runner subproc.Runner) (*Bridge, error) {
	if runner == nil {
		runner = subproc.NewProcessRunner()
	}

	b := &Bridge{
		python:              utils.GetEnv("PYTHON_BIN", "python3"),
		extractScript:       utils.GetEnv("AI_EXTRACT_SCRIPT_PATH", filepath.Join("scripts", "extract_features.py")),
		inferScript:         utils.GetEnv("AI_INFER_SCRIPT_PATH", filepath.Join("scripts", "score_practice.py")),
		configPath:          utils.GetEnv("AI_CONFIG_PATH", filepath.Join("scripts", "model_config.json")),
		regressionModel:     utils.GetEnv("AI_REGRESSION_MODEL_PATH", filepath.Join("scripts", "regression_model.pkl")),
		classificationModel: utils.GetEnv("AI_CLASSIFICATION_MODEL_PATH", filepath.Join("scripts", "classification_model.pkl")),
		sampleRate:          utils.GetEnv("AI_SAMPLE_RATE", "22050"),
		runner:              runner,
	}

	var missing []string
	for _, artifact := range []struct{ label, path string }{
		{"feature extraction script", b.extractScript},
		{"inference script", b.inferScript},
		{"model config", b.configPath},
		{"regression model", b.regressionModel},
		{"classification model", b.classificationModel},
	} {
		if _, err := os.Stat(artifact.path); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", artifact.label, artifact.path))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing AI artifacts: %s", strings.Join(missing, ", "))
	}

	return b, nil
}

// Artifacts reports the resolved artifact paths, for diagnostics surfaces.
func (b *Bridge) Artifacts() map[string]string {
	return map[string]string{
		"extractScript":       b.extractScript,
		"inferScript":         b.inferScript,
		"config":              b.configPath,
		"regressionModel":     b.regressionModel,
		"classificationModel": b.classificationModel,
	}
}

type extractResponse struct {
	Success  bool               `json:"success"`
	Features map[string]float64 `json:"features"`
	Error    string             `json:"error"`
}

// ExtractFeatures runs the extraction program over the audio file and returns
// the feature map exactly as reported.
func (b *Bridge) ExtractFeatures(ctx context.Context, audioPath string) (map[string]float64, error) {
	stdout, stderr, exitCode, err := b.runner.Run(ctx, nil, b.python,
		b.extractScript,
		"--config", b.configPath,
		"--audio", audioPath,
		"--sr", b.sampleRate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run feature extraction: %w", err)
	}

	var resp extractResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, fmt.Errorf("unparseable feature extraction output (exit %d): %s",
			exitCode, firstLine(stderr, stdout))
	}
	if !resp.Success {
		message := resp.Error
		if message == "" {
			message = "feature extraction reported failure without detail"
		}
		return nil, fmt.Errorf("feature extraction failed: %s", message)
	}
	return resp.Features, nil
}

type scoreRequest struct {
	Features map[string]float64 `json:"features"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

type scoreResponse struct {
	Success bool             `json:"success"`
	Scores  *models.ScoreSet `json:"scores"`
	Error   string           `json:"error"`
}

// Score pipes the feature vector to the inference program and returns the
// regression+classification pair. Features must already be sanitized.
func (b *Bridge) Score(ctx context.Context, features map[string]float64, meta map[string]string) (*models.ScoreSet, error) {
	payload, err := json.Marshal(scoreRequest{Features: features, Metadata: meta})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scoring request: %w", err)
	}

	stdout, stderr, exitCode, err := b.runner.Run(ctx, payload, b.python,
		b.inferScript,
		"--config", b.configPath,
		"--regression-model", b.regressionModel,
		"--classification-model", b.classificationModel,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run scoring: %w", err)
	}

	var resp scoreResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return nil, fmt.Errorf("unparseable scoring output (exit %d): %s",
			exitCode, firstLine(stderr, stdout))
	}
	if !resp.Success {
		message := resp.Error
		if message == "" {
			message = "scoring reported failure without detail"
		}
		return nil, fmt.Errorf("scoring failed: %s", message)
	}
	if resp.Scores == nil {
		return nil, fmt.Errorf("scoring returned no scores")
	}
	return resp.Scores, nil
}

func firstLine(preferred, fallback []byte) string {
	text := strings.TrimSpace(string(preferred))
	if text == "" {
		text = strings.TrimSpace(string(fallback))
	}
	if text == "" {
		return "no output"
	}
	if idx := strings.IndexByte(text, '\n'); idx != -1 {
		text = text[:idx]
	}
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}
