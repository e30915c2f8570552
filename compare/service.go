package compare

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"guitar-practice/cloudstore"
	"guitar-practice/models"
	"guitar-practice/scratch"
	"guitar-practice/utils"
)

// Store is the persistence surface the comparison flow touches.
type Store interface {
	ReferenceStore
	IncrementReferenceUsage(ctx context.Context, id string) error
	CreateUserSong(ctx context.Context, song *models.UserSong) (string, error)
	UpdateUserSongComparison(ctx context.Context, id string, result json.RawMessage, referenceSongID string) error
}

// Upload is one audio file received from the client.
type Upload struct {
	Data     []byte
	Filename string
}

// Request describes a single comparison. Exactly one of ReferenceSongID or
// Second must be set: compare against a stored reference, or against a second
// uploaded recording.
type Request struct {
	UserID          string
	Performance     Upload
	Second          *Upload
	ReferenceSongID string
	// UserSongID attaches the result to an already-saved recording instead of
	// creating a new one.
	UserSongID  string
	Options     Options
	SaveToCloud bool
	Title       string
	Description string
}

// Response is the comparison outcome. SavedUserSong stays nil when the user
// didn't ask to save or when the save path failed non-fatally.
type Response struct {
	Comparison    map[string]interface{} `json:"comparison"`
	SavedUserSong *models.UserSong       `json:"savedUserSong"`
	ReferenceSong *models.ReferenceSong  `json:"referenceSong,omitempty"`
}

// Service runs the comparison state machine: temp write, optional cloud
// upload, optional reference download, subprocess, optional persist, cleanup.
type Service struct {
	store  Store
	cloud  cloudstore.Store
	files  *scratch.Manager
	scorer Scorer
}

// NewService wires the comparison flow.
func NewService(store Store, cloud cloudstore.Store, files *scratch.Manager, scorer Scorer) *Service {
	return &Service{store: store, cloud: cloud, files: files, scorer: scorer}
}

// requestContext applies the optional subprocess deadline. The source system
// ran without one; COMPARE_TIMEOUT_SECONDS=0 keeps that behavior.
func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	seconds, err := strconv.Atoi(utils.GetEnv("COMPARE_TIMEOUT_SECONDS", "0"))
	if err != nil || seconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}

// Compare executes the full flow. Temp files written along the way are
// removed on every exit path.
func (s *Service) Compare(ctx context.Context, req Request) (*Response, error) {
	logger := utils.GetLogger()

	ctx, cancel := requestContext(ctx)
	defer cancel()

	var tempPaths []string
	defer func() {
		s.files.Remove(tempPaths...)
	}()

	perfPath, err := s.files.Write(req.Performance.Data, req.Performance.Filename)
	if err != nil {
		return nil, err
	}
	tempPaths = append(tempPaths, perfPath)

	// The durable copy is uploaded before the comparison so a slow comparator
	// doesn't sit between the user and their saved recording. Failure here is
	// never fatal to the comparison itself.
	var savedAsset *models.AudioAsset
	if req.SaveToCloud {
		asset, uploadErr := s.cloud.Upload(ctx, req.Performance.Data, req.Performance.Filename, "user-songs")
		if uploadErr != nil {
			logger.Warn("cloud upload failed, continuing without save",
				slog.String("userID", req.UserID),
				slog.Any("error", uploadErr),
			)
		} else {
			savedAsset = asset
		}
	}

	var refPath string
	var ref *models.ReferenceSong
	if req.Second != nil {
		refPath, err = s.files.Write(req.Second.Data, req.Second.Filename)
		if err != nil {
			return nil, err
		}
		tempPaths = append(tempPaths, refPath)
	} else {
		refPath, ref, err = FetchReferenceAudio(ctx, s.store, s.files, req.ReferenceSongID)
		if err != nil {
			return nil, err
		}
		tempPaths = append(tempPaths, refPath)
	}

	comparison, err := s.scorer.Compare(ctx, refPath, perfPath, req.Options)
	if err != nil {
		return nil, err
	}

	// Counters move only after a successful comparison, and a failed increment
	// never fails the request.
	if ref != nil {
		if incErr := s.store.IncrementReferenceUsage(ctx, ref.ID); incErr != nil {
			logger.Warn("failed to bump reference usage counter",
				slog.String("referenceSongID", ref.ID),
				slog.Any("error", incErr),
			)
		}
	}

	resp := &Response{Comparison: comparison, ReferenceSong: ref}

	if req.UserSongID != "" {
		raw, _ := json.Marshal(comparison)
		refID := ""
		if ref != nil {
			refID = ref.ID
		}
		if updErr := s.store.UpdateUserSongComparison(ctx, req.UserSongID, raw, refID); updErr != nil {
			logger.Warn("failed to attach comparison to user song",
				slog.String("userSongID", req.UserSongID),
				slog.Any("error", updErr),
			)
		}
	}

	if savedAsset != nil {
		song := &models.UserSong{
			OwnerID:         req.UserID,
			Title:           songTitle(req),
			Description:     req.Description,
			Audio:           *savedAsset,
			ComparisonCount: 1,
			CreatedAt:       time.Now(),
		}
		if ref != nil {
			song.ReferenceSongID = ref.ID
		}
		if raw, marshalErr := json.Marshal(comparison); marshalErr == nil {
			song.LastComparison = raw
		}

		id, saveErr := s.store.CreateUserSong(ctx, song)
		if saveErr != nil {
			logger.Warn("failed to persist user song, continuing",
				slog.String("userID", req.UserID),
				slog.Any("error", saveErr),
			)
		} else {
			song.ID = id
			resp.SavedUserSong = song
		}
	}

	return resp, nil
}

func songTitle(req Request) string {
	if req.Title != "" {
		return req.Title
	}
	return req.Performance.Filename
}
