package models

import (
	"encoding/json"
	"time"
)

// AudioAsset describes a file stored in the remote media store. The remote
// provider files audio under its "video" resource type, so Duration and Size
// come back from the video upload pipeline.
type AudioAsset struct {
	PublicID string  `json:"publicId" bson:"publicId"`
	URL      string  `json:"url" bson:"url"`
	Format   string  `json:"format,omitempty" bson:"format,omitempty"`
	Duration float64 `json:"duration,omitempty" bson:"duration,omitempty"`
	Size     int64   `json:"size,omitempty" bson:"size,omitempty"`
}

// ReferenceSong is an admin-curated canonical recording used as a comparison
// target. The record only exists once its audio upload has succeeded.
type ReferenceSong struct {
	ID            string     `json:"id" bson:"_id,omitempty"`
	Title         string     `json:"title" bson:"title"`
	Artist        string     `json:"artist" bson:"artist"`
	Audio         AudioAsset `json:"audio" bson:"audio"`
	TempoBPM      int        `json:"tempoBpm,omitempty" bson:"tempoBpm,omitempty"`
	TimeSignature string     `json:"timeSignature,omitempty" bson:"timeSignature,omitempty"`
	Key           string     `json:"key,omitempty" bson:"key,omitempty"`
	Difficulty    string     `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	IsActive      bool       `json:"isActive" bson:"isActive"`
	UsageCount    int64      `json:"usageCount" bson:"usageCount"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
}

// UserSong is a learner's saved recording, optionally linked to the reference
// song used in its most recent comparison.
type UserSong struct {
	ID              string          `json:"id" bson:"_id,omitempty"`
	OwnerID         string          `json:"ownerId" bson:"ownerId"`
	Title           string          `json:"title" bson:"title"`
	Description     string          `json:"description,omitempty" bson:"description,omitempty"`
	Audio           AudioAsset      `json:"audio" bson:"audio"`
	ReferenceSongID string          `json:"referenceSongId,omitempty" bson:"referenceSongId,omitempty"`
	LastComparison  json.RawMessage `json:"lastComparisonResult,omitempty" bson:"lastComparisonResult,omitempty"`
	ComparisonCount int64           `json:"comparisonCount" bson:"comparisonCount"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
}

// RegressionScores carries the regression model's outputs for a practice take.
type RegressionScores struct {
	OverallScore   float64 `json:"overall_score" bson:"overall_score"`
	PitchScore     float64 `json:"pitch_score,omitempty" bson:"pitch_score,omitempty"`
	RhythmScore    float64 `json:"rhythm_score,omitempty" bson:"rhythm_score,omitempty"`
	TechniqueScore float64 `json:"technique_score,omitempty" bson:"technique_score,omitempty"`
}

// ClassificationScore carries the level classifier's output.
type ClassificationScore struct {
	Level         string    `json:"level" bson:"level"`
	Probabilities []float64 `json:"probabilities,omitempty" bson:"probabilities,omitempty"`
}

// ScoreSet is the two-part response of the scoring model pair.
type ScoreSet struct {
	Regression     RegressionScores    `json:"regression" bson:"regression"`
	Classification ClassificationScore `json:"classification" bson:"classification"`
}

// PracticeResult is one scored practice attempt. Records are immutable after
// creation except for cascading deletion when their audio disappears remotely.
type PracticeResult struct {
	ID        string             `json:"id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"userId"`
	LessonID  string             `json:"lessonId,omitempty" bson:"lessonId,omitempty"`
	CourseID  string             `json:"courseId,omitempty" bson:"courseId,omitempty"`
	Meta      map[string]string  `json:"meta,omitempty" bson:"meta,omitempty"`
	Audio     *AudioAsset        `json:"audio,omitempty" bson:"audio,omitempty"`
	Features  map[string]float64 `json:"features" bson:"features"`
	Scores    ScoreSet           `json:"scores" bson:"scores"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}
