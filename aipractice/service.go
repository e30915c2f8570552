package aipractice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guitar-practice/cloudstore"
	"guitar-practice/models"
	"guitar-practice/scratch"
	"guitar-practice/utils"
)

// Store is the persistence surface for practice results.
type Store interface {
	SavePracticeResult(ctx context.Context, result *models.PracticeResult) (string, error)
	ListPracticeResults(ctx context.Context, userID string, limit int64, lessonID string) ([]models.PracticeResult, error)
	ListPracticeAudio(ctx context.Context, userID string) ([]models.PracticeResult, error)
	DeletePracticeResult(ctx context.Context, id string) error
}

// Submission is one practice take to score.
type Submission struct {
	UserID      string
	Audio       []byte
	Filename    string
	LessonID    string
	CourseID    string
	Meta        map[string]string
	SaveToCloud bool
}

// Result pairs the scored attempt with the persisted record ID (empty when
// the optional save failed).
type Result struct {
	Record  *models.PracticeResult `json:"record"`
	SavedID string                 `json:"savedId,omitempty"`
}

// HistoryStats aggregates over the returned page only, not the full history.
// Page-local on purpose: it mirrors the observed behavior of the source
// system.
type HistoryStats struct {
	Sessions       int     `json:"sessions"`
	AverageOverall float64 `json:"averageOverall"`
	BestOverall    float64 `json:"bestOverall"`
}

// HistoryPage is one page of practice results plus its page-local stats.
type HistoryPage struct {
	Records []models.PracticeResult `json:"records"`
	Stats   HistoryStats            `json:"stats"`
}

// Service orchestrates scoring submissions and history reads.
type Service struct {
	bridge FeatureScorer
	store  Store
	cloud  cloudstore.Store
	files  *scratch.Manager
}

// NewService wires the practice-scoring flow.
func NewService(bridge FeatureScorer, store Store, cloud cloudstore.Store, files *scratch.Manager) *Service {
	return &Service{bridge: bridge, store: store, cloud: cloud, files: files}
}

// ScoreSubmission stages the audio, extracts and sanitizes features, scores
// them and persists the attempt. The scratch file never outlives the call.
func (s *Service) ScoreSubmission(ctx context.Context, sub Submission) (*Result, error) {
	audioPath, err := s.files.Write(sub.Audio, sub.Filename)
	if err != nil {
		return nil, err
	}
	defer s.files.Remove(audioPath)

	features, err := s.bridge.ExtractFeatures(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]interface{}, len(features))
	for key, value := range features {
		raw[key] = value
	}
	clean, missingOrInvalid := SanitizeFeatures(raw)
	if len(missingOrInvalid) > 0 {
		return nil, fmt.Errorf("extracted features missing or invalid: %s",
			strings.Join(missingOrInvalid, ", "))
	}

	return s.scoreAndPersist(ctx, sub, clean)
}

// ScoreFeatures scores an already-extracted feature payload. Sanitization
// failures carry the exact offending keys.
func (s *Service) ScoreFeatures(ctx context.Context, sub Submission, raw map[string]interface{}) (*Result, []string, error) {
	clean, missingOrInvalid := SanitizeFeatures(raw)
	if len(missingOrInvalid) > 0 {
		return nil, missingOrInvalid, nil
	}
	result, err := s.scoreAndPersist(ctx, sub, clean)
	return result, nil, err
}

func (s *Service) scoreAndPersist(ctx context.Context, sub Submission, features map[string]float64) (*Result, error) {
	logger := utils.GetLogger()

	meta := map[string]string{}
	for key, value := range sub.Meta {
		meta[key] = value
	}
	if sub.LessonID != "" {
		meta["lessonId"] = sub.LessonID
	}

	scores, err := s.bridge.Score(ctx, features, meta)
	if err != nil {
		return nil, err
	}

	record := &models.PracticeResult{
		UserID:    sub.UserID,
		LessonID:  sub.LessonID,
		CourseID:  sub.CourseID,
		Meta:      sub.Meta,
		Features:  features,
		Scores:    *scores,
		CreatedAt: time.Now(),
	}

	// Durable copy of the submitted audio is optional and non-fatal.
	if sub.SaveToCloud && len(sub.Audio) > 0 {
		asset, uploadErr := s.cloud.Upload(ctx, sub.Audio, sub.Filename, "practice-audio")
		if uploadErr != nil {
			logger.Warn("practice audio upload failed, continuing",
				slog.String("userID", sub.UserID),
				slog.Any("error", uploadErr),
			)
		} else {
			record.Audio = asset
		}
	}

	result := &Result{Record: record}
	id, saveErr := s.store.SavePracticeResult(ctx, record)
	if saveErr != nil {
		logger.Warn("failed to persist practice result, continuing",
			slog.String("userID", sub.UserID),
			slog.Any("error", saveErr),
		)
	} else {
		record.ID = id
		result.SavedID = id
	}

	return result, nil
}

// History returns the newest page of results with page-local stats.
func (s *Service) History(ctx context.Context, userID string, limit int64, lessonID string) (*HistoryPage, error) {
	if limit <= 0 {
		limit = 20
	}

	records, err := s.store.ListPracticeResults(ctx, userID, limit, lessonID)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Records: records}
	page.Stats.Sessions = len(records)
	var sum float64
	for _, record := range records {
		overall := record.Scores.Regression.OverallScore
		sum += overall
		if overall > page.Stats.BestOverall {
			page.Stats.BestOverall = overall
		}
	}
	if len(records) > 0 {
		page.Stats.AverageOverall = sum / float64(len(records))
	}
	return page, nil
}

// ListUserAudio returns the user's stored practice audio, pruning records
// whose remote file no longer exists. A self-healing consistency pass on
// every read: slower reads, eventually consistent store.
func (s *Service) ListUserAudio(ctx context.Context, userID string) ([]models.PracticeResult, error) {
	logger := utils.GetLogger()

	records, err := s.store.ListPracticeAudio(ctx, userID)
	if err != nil {
		return nil, err
	}

	alive := make([]models.PracticeResult, 0, len(records))
	for _, record := range records {
		if record.Audio == nil || record.Audio.PublicID == "" {
			alive = append(alive, record)
			continue
		}

		exists, probeErr := s.cloud.Exists(ctx, record.Audio.PublicID)
		if probeErr != nil {
			// Probe failure is not proof of absence; keep the record.
			logger.Warn("remote existence probe failed",
				slog.String("publicID", record.Audio.PublicID),
				slog.Any("error", probeErr),
			)
			alive = append(alive, record)
			continue
		}
		if exists {
			alive = append(alive, record)
			continue
		}

		logger.Info("pruning practice record with missing remote audio",
			slog.String("recordID", record.ID),
			slog.String("publicID", record.Audio.PublicID),
		)
		if delErr := s.store.DeletePracticeResult(ctx, record.ID); delErr != nil {
			logger.Warn("failed to prune practice record",
				slog.String("recordID", record.ID),
				slog.Any("error", delErr),
			)
		}
	}

	return alive, nil
}
