package aipractice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"guitar-practice/models"
	"guitar-practice/scratch"
)

type fakeBridge struct {
	features     map[string]float64
	extractErr   error
	scores       *models.ScoreSet
	scoreErr     error
	gotAudioPath string
	pathExisted  bool
}

func (f *fakeBridge) ExtractFeatures(ctx context.Context, audioPath string) (map[string]float64, error) {
	f.gotAudioPath = audioPath
	_, err := os.Stat(audioPath)
	f.pathExisted = err == nil
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.features, nil
}

func (f *fakeBridge) Score(ctx context.Context, features map[string]float64, meta map[string]string) (*models.ScoreSet, error) {
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	return f.scores, nil
}

type fakePracticeStore struct {
	saved      []*models.PracticeResult
	saveErr    error
	listed     []models.PracticeResult
	listErr    error
	audio      []models.PracticeResult
	deletedIDs []string
	deleteErr  error
	gotLimit   int64
	gotLesson  string
}

func (f *fakePracticeStore) SavePracticeResult(ctx context.Context, result *models.PracticeResult) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, result)
	return "result-1", nil
}

func (f *fakePracticeStore) ListPracticeResults(ctx context.Context, userID string, limit int64, lessonID string) ([]models.PracticeResult, error) {
	f.gotLimit = limit
	f.gotLesson = lessonID
	return f.listed, f.listErr
}

func (f *fakePracticeStore) ListPracticeAudio(ctx context.Context, userID string) ([]models.PracticeResult, error) {
	return f.audio, nil
}

func (f *fakePracticeStore) DeletePracticeResult(ctx context.Context, id string) error {
	f.deletedIDs = append(f.deletedIDs, id)
	return f.deleteErr
}

type fakeCloud struct {
	uploadErr   error
	uploadCalls int
	existing    map[string]bool
	probeErrs   map[string]error
}

func (f *fakeCloud) Upload(ctx context.Context, data []byte, originalName, folder string) (*models.AudioAsset, error) {
	f.uploadCalls++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &models.AudioAsset{PublicID: "practice-asset", URL: "https://cdn.example/practice-asset"}, nil
}

func (f *fakeCloud) Delete(ctx context.Context, publicID string) error { return nil }

func (f *fakeCloud) Exists(ctx context.Context, publicID string) (bool, error) {
	if err, ok := f.probeErrs[publicID]; ok {
		return false, err
	}
	return f.existing[publicID], nil
}

func (f *fakeCloud) URLFor(publicID string) string { return "https://cdn.example/" + publicID }

func validScores() *models.ScoreSet {
	return &models.ScoreSet{
		Regression: models.RegressionScores{OverallScore: 82.5, PitchScore: 80, RhythmScore: 85},
		Classification: models.ClassificationScore{
			Level:         "intermediate",
			Probabilities: []float64{0.1, 0.7, 0.2},
		},
	}
}

func validFeatures() map[string]float64 {
	features := make(map[string]float64, len(RequiredFeatureKeys))
	for i, key := range RequiredFeatureKeys {
		features[key] = float64(i) + 1
	}
	return features
}

func newPracticeService(bridge *fakeBridge, store *fakePracticeStore, cloud *fakeCloud, dir string) (*Service, *scratch.Manager) {
	files := scratch.New(filepath.Join(dir, "scratch"))
	return NewService(bridge, store, cloud, files), files
}

func scratchFileCount(t *testing.T, m *scratch.Manager) int {
	t.Helper()
	dir, err := m.Dir()
	if err != nil {
		t.Fatalf("failed to resolve scratch dir: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read scratch dir: %v", err)
	}
	return len(entries)
}

func TestScoreSubmissionHappyPath(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{features: validFeatures(), scores: validScores()}
	store := &fakePracticeStore{}
	service, files := newPracticeService(bridge, store, &fakeCloud{}, t.TempDir())

	result, err := service.ScoreSubmission(context.Background(), Submission{
		UserID:   "user-1",
		Audio:    []byte("take-bytes"),
		Filename: "take.wav",
		LessonID: "lesson-3",
	})
	if err != nil {
		t.Fatalf("ScoreSubmission returned error: %v", err)
	}
	if !bridge.pathExisted {
		t.Error("audio file did not exist during feature extraction")
	}
	if result.SavedID != "result-1" {
		t.Errorf("SavedID = %q, want result-1", result.SavedID)
	}
	if result.Record.Scores.Regression.OverallScore != 82.5 {
		t.Errorf("overall score = %v", result.Record.Scores.Regression.OverallScore)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}
	if count := scratchFileCount(t, files); count != 0 {
		t.Errorf("expected empty scratch dir after scoring, found %d files", count)
	}
}

func TestScoreSubmissionFailsOnIncompleteFeatures(t *testing.T) {
	t.Parallel()

	features := validFeatures()
	delete(features, "tempo_bpm")
	bridge := &fakeBridge{features: features, scores: validScores()}
	store := &fakePracticeStore{}
	service, files := newPracticeService(bridge, store, &fakeCloud{}, t.TempDir())

	_, err := service.ScoreSubmission(context.Background(), Submission{
		UserID:   "user-1",
		Audio:    []byte("take-bytes"),
		Filename: "take.wav",
	})
	if err == nil {
		t.Fatal("expected error for incomplete feature payload")
	}
	if len(store.saved) != 0 {
		t.Error("nothing should be persisted when sanitization fails")
	}
	if count := scratchFileCount(t, files); count != 0 {
		t.Errorf("expected empty scratch dir after failure, found %d files", count)
	}
}

func TestScoreSubmissionCloudUploadFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{features: validFeatures(), scores: validScores()}
	store := &fakePracticeStore{}
	cloud := &fakeCloud{uploadErr: errors.New("cloud down")}
	service, _ := newPracticeService(bridge, store, cloud, t.TempDir())

	result, err := service.ScoreSubmission(context.Background(), Submission{
		UserID:      "user-1",
		Audio:       []byte("take-bytes"),
		Filename:    "take.wav",
		SaveToCloud: true,
	})
	if err != nil {
		t.Fatalf("ScoreSubmission returned error: %v", err)
	}
	if result.Record.Audio != nil {
		t.Error("record should carry no audio asset when upload fails")
	}
	if result.SavedID == "" {
		t.Error("record should still be persisted after upload failure")
	}
}

func TestScoreSubmissionPersistFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{features: validFeatures(), scores: validScores()}
	store := &fakePracticeStore{saveErr: errors.New("db down")}
	service, _ := newPracticeService(bridge, store, &fakeCloud{}, t.TempDir())

	result, err := service.ScoreSubmission(context.Background(), Submission{
		UserID:   "user-1",
		Audio:    []byte("take-bytes"),
		Filename: "take.wav",
	})
	if err != nil {
		t.Fatalf("ScoreSubmission returned error: %v", err)
	}
	if result.SavedID != "" {
		t.Errorf("SavedID = %q, want empty after persistence failure", result.SavedID)
	}
	if result.Record.Scores.Classification.Level != "intermediate" {
		t.Error("scores should still be returned after persistence failure")
	}
}

func TestScoreFeaturesReturnsOffendingKeysWithoutError(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{scores: validScores()}
	service, _ := newPracticeService(bridge, &fakePracticeStore{}, &fakeCloud{}, t.TempDir())

	raw := map[string]interface{}{"pitch_mean": 220.0}
	result, missing, err := service.ScoreFeatures(context.Background(), Submission{UserID: "user-1"}, raw)
	if err != nil {
		t.Fatalf("ScoreFeatures returned error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for invalid payload")
	}
	if len(missing) != len(RequiredFeatureKeys)-1 {
		t.Errorf("missing = %d keys, want %d", len(missing), len(RequiredFeatureKeys)-1)
	}
}

func TestScoreFeaturesSaveToCloudHasNoAudioToUpload(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{scores: validScores()}
	store := &fakePracticeStore{}
	cloud := &fakeCloud{}
	service, _ := newPracticeService(bridge, store, cloud, t.TempDir())

	raw := make(map[string]interface{}, len(RequiredFeatureKeys))
	for key, value := range validFeatures() {
		raw[key] = value
	}
	result, missing, err := service.ScoreFeatures(context.Background(),
		Submission{UserID: "user-1", SaveToCloud: true}, raw)
	if err != nil {
		t.Fatalf("ScoreFeatures returned error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected missing keys: %v", missing)
	}
	if cloud.uploadCalls != 0 {
		t.Errorf("upload calls = %d, want 0 for a feature-only submission", cloud.uploadCalls)
	}
	if result.SavedID != "result-1" {
		t.Errorf("SavedID = %q, want result-1", result.SavedID)
	}
	if result.Record.Audio != nil {
		t.Error("feature-only submission should carry no audio asset")
	}
}

func TestHistoryComputesPageLocalStats(t *testing.T) {
	t.Parallel()

	store := &fakePracticeStore{listed: []models.PracticeResult{
		{ID: "a", Scores: models.ScoreSet{Regression: models.RegressionScores{OverallScore: 60}}},
		{ID: "b", Scores: models.ScoreSet{Regression: models.RegressionScores{OverallScore: 90}}},
		{ID: "c", Scores: models.ScoreSet{Regression: models.RegressionScores{OverallScore: 75}}},
	}}
	service, _ := newPracticeService(&fakeBridge{}, store, &fakeCloud{}, t.TempDir())

	page, err := service.History(context.Background(), "user-1", 0, "lesson-3")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if store.gotLimit != 20 {
		t.Errorf("default limit = %d, want 20", store.gotLimit)
	}
	if store.gotLesson != "lesson-3" {
		t.Errorf("lesson filter = %q", store.gotLesson)
	}
	if page.Stats.Sessions != 3 {
		t.Errorf("sessions = %d, want 3", page.Stats.Sessions)
	}
	if page.Stats.AverageOverall != 75 {
		t.Errorf("average = %v, want 75", page.Stats.AverageOverall)
	}
	if page.Stats.BestOverall != 90 {
		t.Errorf("best = %v, want 90", page.Stats.BestOverall)
	}
}

func TestHistoryEmptyPage(t *testing.T) {
	t.Parallel()

	service, _ := newPracticeService(&fakeBridge{}, &fakePracticeStore{}, &fakeCloud{}, t.TempDir())

	page, err := service.History(context.Background(), "user-1", 5, "")
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if page.Stats.Sessions != 0 || page.Stats.AverageOverall != 0 || page.Stats.BestOverall != 0 {
		t.Errorf("expected zero stats for empty page, got %+v", page.Stats)
	}
}

func TestListUserAudioPrunesMissingRemoteFiles(t *testing.T) {
	t.Parallel()

	store := &fakePracticeStore{audio: []models.PracticeResult{
		{ID: "keep", Audio: &models.AudioAsset{PublicID: "present"}},
		{ID: "prune", Audio: &models.AudioAsset{PublicID: "gone"}},
		{ID: "unsure", Audio: &models.AudioAsset{PublicID: "flaky"}},
	}}
	cloud := &fakeCloud{
		existing:  map[string]bool{"present": true},
		probeErrs: map[string]error{"flaky": errors.New("admin api timeout")},
	}
	service, _ := newPracticeService(&fakeBridge{}, store, cloud, t.TempDir())

	records, err := service.ListUserAudio(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListUserAudio returned error: %v", err)
	}

	ids := map[string]bool{}
	for _, record := range records {
		ids[record.ID] = true
	}
	if !ids["keep"] {
		t.Error("record with existing remote audio should be kept")
	}
	if ids["prune"] {
		t.Error("record with missing remote audio should be excluded")
	}
	if !ids["unsure"] {
		t.Error("record with failed probe should be kept")
	}

	if len(store.deletedIDs) != 1 || store.deletedIDs[0] != "prune" {
		t.Errorf("deleted IDs = %v, want [prune]", store.deletedIDs)
	}
}

func TestListUserAudioDeleteFailureStillExcludesRecord(t *testing.T) {
	t.Parallel()

	store := &fakePracticeStore{
		audio:     []models.PracticeResult{{ID: "prune", Audio: &models.AudioAsset{PublicID: "gone"}}},
		deleteErr: errors.New("db down"),
	}
	cloud := &fakeCloud{existing: map[string]bool{}}
	service, _ := newPracticeService(&fakeBridge{}, store, cloud, t.TempDir())

	records, err := service.ListUserAudio(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListUserAudio returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}
