package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"guitar-practice/models"
	"guitar-practice/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

func createTables(db *sql.DB) error {
	createReferenceSongs := `
    CREATE TABLE IF NOT EXISTS reference_songs (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        artist TEXT NOT NULL,
        audio TEXT NOT NULL,
        tempo_bpm INTEGER,
        time_signature TEXT,
        song_key TEXT,
        difficulty TEXT,
        is_active INTEGER NOT NULL DEFAULT 1,
        usage_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	createUserSongs := `
    CREATE TABLE IF NOT EXISTS user_songs (
        id TEXT PRIMARY KEY,
        owner_id TEXT NOT NULL,
        title TEXT NOT NULL,
        description TEXT,
        audio TEXT NOT NULL,
        reference_song_id TEXT,
        last_comparison TEXT,
        comparison_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_user_songs_owner ON user_songs(owner_id);
    `

	createPracticeResults := `
    CREATE TABLE IF NOT EXISTS practice_results (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        lesson_id TEXT,
        course_id TEXT,
        meta TEXT,
        audio TEXT,
        features TEXT NOT NULL,
        scores TEXT NOT NULL,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_practice_results_user ON practice_results(user_id, created_at);
    `

	for _, stmt := range []string{createReferenceSongs, createUserSongs, createPracticeResults} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteClient) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func marshalColumn(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("error encoding column: %s", err)
	}
	return string(raw), nil
}

func (s *SQLiteClient) CreateReferenceSong(ctx context.Context, song *models.ReferenceSong) (string, error) {
	if song.ID == "" {
		song.ID = newDocumentID()
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	audioJSON, err := marshalColumn(song.Audio)
	if err != nil {
		return "", err
	}

	isActive := 0
	if song.IsActive {
		isActive = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reference_songs (
			id, title, artist, audio, tempo_bpm, time_signature,
			song_key, difficulty, is_active, usage_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.Title, song.Artist, audioJSON, song.TempoBPM, song.TimeSignature,
		song.Key, song.Difficulty, isActive, song.UsageCount, song.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("error inserting reference song: %s", err)
	}
	return song.ID, nil
}

func scanReferenceSong(scanner interface{ Scan(...interface{}) error }) (*models.ReferenceSong, error) {
	var song models.ReferenceSong
	var audioJSON string
	var isActive int
	var tempo sql.NullInt64
	var timeSig, key, difficulty sql.NullString

	err := scanner.Scan(&song.ID, &song.Title, &song.Artist, &audioJSON, &tempo,
		&timeSig, &key, &difficulty, &isActive, &song.UsageCount, &song.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(audioJSON), &song.Audio); err != nil {
		return nil, fmt.Errorf("error decoding audio column: %s", err)
	}
	song.TempoBPM = int(tempo.Int64)
	song.TimeSignature = timeSig.String
	song.Key = key.String
	song.Difficulty = difficulty.String
	song.IsActive = isActive == 1
	return &song, nil
}

const referenceSongColumns = `id, title, artist, audio, tempo_bpm, time_signature,
	song_key, difficulty, is_active, usage_count, created_at`

func (s *SQLiteClient) GetReferenceSong(ctx context.Context, id string) (*models.ReferenceSong, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+referenceSongColumns+" FROM reference_songs WHERE id = ?", id)

	song, err := scanReferenceSong(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading reference song: %s", err)
	}
	return song, nil
}

func (s *SQLiteClient) ListReferenceSongs(ctx context.Context, activeOnly bool) ([]models.ReferenceSong, error) {
	query := "SELECT " + referenceSongColumns + " FROM reference_songs"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing reference songs: %s", err)
	}
	defer rows.Close()

	var songs []models.ReferenceSong
	for rows.Next() {
		song, err := scanReferenceSong(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reference song: %s", err)
		}
		songs = append(songs, *song)
	}
	return songs, rows.Err()
}

func (s *SQLiteClient) DeleteReferenceSong(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reference_songs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error deleting reference song: %s", err)
	}
	return nil
}

func (s *SQLiteClient) IncrementReferenceUsage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reference_songs SET usage_count = usage_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error incrementing usage count: %s", err)
	}
	return nil
}

func (s *SQLiteClient) CreateUserSong(ctx context.Context, song *models.UserSong) (string, error) {
	if song.ID == "" {
		song.ID = newDocumentID()
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	audioJSON, err := marshalColumn(song.Audio)
	if err != nil {
		return "", err
	}

	var lastComparison *string
	if len(song.LastComparison) > 0 {
		text := string(song.LastComparison)
		lastComparison = &text
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_songs (
			id, owner_id, title, description, audio, reference_song_id,
			last_comparison, comparison_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.OwnerID, song.Title, song.Description, audioJSON,
		song.ReferenceSongID, lastComparison, song.ComparisonCount, song.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("error inserting user song: %s", err)
	}
	return song.ID, nil
}

func scanUserSong(scanner interface{ Scan(...interface{}) error }) (*models.UserSong, error) {
	var song models.UserSong
	var audioJSON string
	var description, referenceSongID, lastComparison sql.NullString

	err := scanner.Scan(&song.ID, &song.OwnerID, &song.Title, &description, &audioJSON,
		&referenceSongID, &lastComparison, &song.ComparisonCount, &song.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(audioJSON), &song.Audio); err != nil {
		return nil, fmt.Errorf("error decoding audio column: %s", err)
	}
	song.Description = description.String
	song.ReferenceSongID = referenceSongID.String
	if lastComparison.Valid {
		song.LastComparison = json.RawMessage(lastComparison.String)
	}
	return &song, nil
}

const userSongColumns = `id, owner_id, title, description, audio, reference_song_id,
	last_comparison, comparison_count, created_at`

func (s *SQLiteClient) GetUserSong(ctx context.Context, id string) (*models.UserSong, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userSongColumns+" FROM user_songs WHERE id = ?", id)

	song, err := scanUserSong(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user song: %s", err)
	}
	return song, nil
}

func (s *SQLiteClient) ListUserSongs(ctx context.Context, ownerID string) ([]models.UserSong, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userSongColumns+" FROM user_songs WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing user songs: %s", err)
	}
	defer rows.Close()

	var songs []models.UserSong
	for rows.Next() {
		song, err := scanUserSong(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning user song: %s", err)
		}
		songs = append(songs, *song)
	}
	return songs, rows.Err()
}

func (s *SQLiteClient) UpdateUserSongComparison(ctx context.Context, id string, result json.RawMessage, referenceSongID string) error {
	query := `UPDATE user_songs SET last_comparison = ?, comparison_count = comparison_count + 1`
	args := []interface{}{string(result)}
	if referenceSongID != "" {
		query += ", reference_song_id = ?"
		args = append(args, referenceSongID)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating user song comparison: %s", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("user song not found: %s", id)
	}
	return nil
}

func (s *SQLiteClient) DeleteUserSong(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM user_songs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error deleting user song: %s", err)
	}
	return nil
}

func (s *SQLiteClient) SavePracticeResult(ctx context.Context, result *models.PracticeResult) (string, error) {
	if result.ID == "" {
		result.ID = newDocumentID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	featuresJSON, err := marshalColumn(result.Features)
	if err != nil {
		return "", err
	}
	scoresJSON, err := marshalColumn(result.Scores)
	if err != nil {
		return "", err
	}

	var metaJSON *string
	if result.Meta != nil {
		text, err := marshalColumn(result.Meta)
		if err != nil {
			return "", err
		}
		metaJSON = &text
	}
	var audioJSON *string
	if result.Audio != nil {
		text, err := marshalColumn(result.Audio)
		if err != nil {
			return "", err
		}
		audioJSON = &text
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO practice_results (
			id, user_id, lesson_id, course_id, meta, audio, features, scores, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.UserID, result.LessonID, result.CourseID,
		metaJSON, audioJSON, featuresJSON, scoresJSON, result.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("error inserting practice result: %s", err)
	}
	return result.ID, nil
}

func scanPracticeResult(scanner interface{ Scan(...interface{}) error }) (*models.PracticeResult, error) {
	var result models.PracticeResult
	var lessonID, courseID, metaJSON, audioJSON sql.NullString
	var featuresJSON, scoresJSON string

	err := scanner.Scan(&result.ID, &result.UserID, &lessonID, &courseID,
		&metaJSON, &audioJSON, &featuresJSON, &scoresJSON, &result.CreatedAt)
	if err != nil {
		return nil, err
	}

	result.LessonID = lessonID.String
	result.CourseID = courseID.String
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &result.Meta); err != nil {
			return nil, fmt.Errorf("error decoding meta column: %s", err)
		}
	}
	if audioJSON.Valid {
		var asset models.AudioAsset
		if err := json.Unmarshal([]byte(audioJSON.String), &asset); err != nil {
			return nil, fmt.Errorf("error decoding audio column: %s", err)
		}
		result.Audio = &asset
	}
	if err := json.Unmarshal([]byte(featuresJSON), &result.Features); err != nil {
		return nil, fmt.Errorf("error decoding features column: %s", err)
	}
	if err := json.Unmarshal([]byte(scoresJSON), &result.Scores); err != nil {
		return nil, fmt.Errorf("error decoding scores column: %s", err)
	}
	return &result, nil
}

const practiceResultColumns = `id, user_id, lesson_id, course_id, meta, audio, features, scores, created_at`

func (s *SQLiteClient) ListPracticeResults(ctx context.Context, userID string, limit int64, lessonID string) ([]models.PracticeResult, error) {
	query := "SELECT " + practiceResultColumns + " FROM practice_results WHERE user_id = ?"
	args := []interface{}{userID}
	if lessonID != "" {
		query += " AND lesson_id = ?"
		args = append(args, lessonID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing practice results: %s", err)
	}
	defer rows.Close()

	var results []models.PracticeResult
	for rows.Next() {
		result, err := scanPracticeResult(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning practice result: %s", err)
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

func (s *SQLiteClient) ListPracticeAudio(ctx context.Context, userID string) ([]models.PracticeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+practiceResultColumns+` FROM practice_results
		 WHERE user_id = ? AND audio IS NOT NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing practice audio: %s", err)
	}
	defer rows.Close()

	var results []models.PracticeResult
	for rows.Next() {
		result, err := scanPracticeResult(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning practice result: %s", err)
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

func (s *SQLiteClient) DeletePracticeResult(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM practice_results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error deleting practice result: %s", err)
	}
	return nil
}
