// Package db persists reference songs, user recordings and practice results.
// MongoDB is the primary backend; SQLite is an embedded fallback selected via
// DB_TYPE for local development.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"guitar-practice/models"
	"guitar-practice/utils"
)

// DBClient is the full persistence surface. Services depend on narrower
// subsets of it.
type DBClient interface {
	Close() error

	CreateReferenceSong(ctx context.Context, song *models.ReferenceSong) (string, error)
	GetReferenceSong(ctx context.Context, id string) (*models.ReferenceSong, error)
	ListReferenceSongs(ctx context.Context, activeOnly bool) ([]models.ReferenceSong, error)
	DeleteReferenceSong(ctx context.Context, id string) error
	IncrementReferenceUsage(ctx context.Context, id string) error

	CreateUserSong(ctx context.Context, song *models.UserSong) (string, error)
	GetUserSong(ctx context.Context, id string) (*models.UserSong, error)
	ListUserSongs(ctx context.Context, ownerID string) ([]models.UserSong, error)
	UpdateUserSongComparison(ctx context.Context, id string, result json.RawMessage, referenceSongID string) error
	DeleteUserSong(ctx context.Context, id string) error

	SavePracticeResult(ctx context.Context, result *models.PracticeResult) (string, error)
	ListPracticeResults(ctx context.Context, userID string, limit int64, lessonID string) ([]models.PracticeResult, error)
	ListPracticeAudio(ctx context.Context, userID string) ([]models.PracticeResult, error)
	DeletePracticeResult(ctx context.Context, id string) error
}

// NewDBClient builds the backend selected by DB_TYPE ("mongo" or "sqlite").
func NewDBClient() (DBClient, error) {
	switch dbType := utils.GetEnv("DB_TYPE", "mongo"); dbType {
	case "mongo":
		uri := utils.GetEnv("MONGO_URI", "mongodb://localhost:27017")
		dbName := utils.GetEnv("MONGO_DB_NAME", "guitar_practice")
		return NewMongoClient(uri, dbName)
	case "sqlite":
		dsn := utils.GetEnv("SQLITE_DSN", "storage/practice.db")
		return NewSQLiteClient(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE: %s", dbType)
	}
}
