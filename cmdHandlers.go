package main

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guitar-practice/aipractice"
	"guitar-practice/chat"
	"guitar-practice/cloudstore"
	"guitar-practice/compare"
	"guitar-practice/db"
	"guitar-practice/middleware"
	"guitar-practice/models"
	"guitar-practice/scratch"
	"guitar-practice/subproc"
	"guitar-practice/tts"
	"guitar-practice/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

const maxUploadBytes = 256 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}

// internalMessage hides raw error detail from clients in production.
func internalMessage(err error) string {
	if utils.GetEnv("APP_ENV", "development") == "production" {
		return "internal server error"
	}
	return err.Error()
}

func applyCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

func handlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func formFloat(r *http.Request, key string, fallback float64) float64 {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func formInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func formBool(r *http.Request, key string) bool {
	return strings.EqualFold(strings.TrimSpace(r.FormValue(key)), "true")
}

// collectMeta gathers meta[field]=value pairs from a multipart form.
func collectMeta(form *multipart.Form) map[string]string {
	meta := map[string]string{}
	if form == nil || form.Value == nil {
		return meta
	}
	for key, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		value := strings.TrimSpace(values[len(values)-1])
		if strings.HasPrefix(key, "meta[") && strings.HasSuffix(key, "]") {
			field := strings.TrimSuffix(strings.TrimPrefix(key, "meta["), "]")
			if field != "" && value != "" {
				meta[field] = value
			}
		}
	}
	return meta
}

func newHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w, "GET")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSONData(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func newAuthTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body struct {
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.UserID) == "" {
			writeJSONError(w, http.StatusBadRequest, "userId is required")
			return
		}

		token, _, expiresAt, err := middleware.IssueToken(strings.TrimSpace(body.UserID))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, map[string]interface{}{
			"token":     token,
			"expiresAt": expiresAt,
		})
	}
}

func newLogoutHandler(revocations middleware.RevocationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, tokenID, expiresAt, err := middleware.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		revocations.Revoke(tokenID, expiresAt)
		writeJSONData(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

func newCompareHandler(service *compare.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		var performance *multipart.FileHeader
		var second *multipart.FileHeader
		if r.MultipartForm.File != nil {
			if headers := r.MultipartForm.File["audio"]; len(headers) > 0 {
				performance = headers[0]
			}
			if headers := r.MultipartForm.File["audio2"]; len(headers) > 0 {
				second = headers[0]
			}
		}
		if performance == nil {
			writeJSONError(w, http.StatusBadRequest, "audio file is required")
			return
		}

		referenceSongID := strings.TrimSpace(r.FormValue("referenceSongId"))
		if referenceSongID == "" && second == nil {
			writeJSONError(w, http.StatusBadRequest, "provide referenceSongId or a second audio file")
			return
		}
		if referenceSongID != "" && second != nil {
			writeJSONError(w, http.StatusBadRequest, "referenceSongId and a second audio file are mutually exclusive")
			return
		}

		perfData, err := readUpload(performance)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read uploaded audio", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "unable to read uploaded audio")
			return
		}
		if len(perfData) == 0 {
			writeJSONError(w, http.StatusBadRequest, "audio file is empty")
			return
		}

		opts := compare.DefaultOptions()
		opts.Hop = formInt(r, "hop", opts.Hop)
		opts.Delta = formFloat(r, "delta", opts.Delta)
		opts.MatchWindow = formFloat(r, "match_window", opts.MatchWindow)
		opts.SampleRate = formInt(r, "sr", 0)

		req := compare.Request{
			UserID:          middleware.UserID(ctx),
			Performance:     compare.Upload{Data: perfData, Filename: performance.Filename},
			ReferenceSongID: referenceSongID,
			UserSongID:      strings.TrimSpace(r.FormValue("userSongId")),
			Options:         opts,
			SaveToCloud:     formBool(r, "saveToCloud"),
			Title:           strings.TrimSpace(r.FormValue("title")),
			Description:     strings.TrimSpace(r.FormValue("description")),
		}

		if second != nil {
			secondData, err := readUpload(second)
			if err != nil {
				logger.ErrorContext(ctx, "failed to read second audio", slog.Any("error", err))
				writeJSONError(w, http.StatusBadRequest, "unable to read second audio file")
				return
			}
			if len(secondData) == 0 {
				writeJSONError(w, http.StatusBadRequest, "second audio file is empty")
				return
			}
			req.Second = &compare.Upload{Data: secondData, Filename: second.Filename}
		}

		resp, err := service.Compare(ctx, req)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "comparison failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, resp)
	}
}

func newReferencesHandler(dbClient db.DBClient, cloud cloudstore.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET, POST")
		if handlePreflight(w, r) {
			return
		}

		switch r.Method {
		case http.MethodGet:
			activeOnly := !strings.EqualFold(r.URL.Query().Get("all"), "true")
			songs, err := dbClient.ListReferenceSongs(ctx, activeOnly)
			if err != nil {
				logger.ErrorContext(ctx, "failed to list reference songs", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			writeJSONData(w, http.StatusOK, songs)

		case http.MethodPost:
			if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
				return
			}

			title := strings.TrimSpace(r.FormValue("title"))
			if title == "" {
				writeJSONError(w, http.StatusBadRequest, "title is required")
				return
			}

			var fileHeader *multipart.FileHeader
			if r.MultipartForm.File != nil {
				if headers := r.MultipartForm.File["audio"]; len(headers) > 0 {
					fileHeader = headers[0]
				}
			}
			if fileHeader == nil {
				writeJSONError(w, http.StatusBadRequest, "audio file is required")
				return
			}
			data, err := readUpload(fileHeader)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unable to read uploaded audio")
				return
			}
			if len(data) == 0 {
				writeJSONError(w, http.StatusBadRequest, "audio file is empty")
				return
			}

			// The record only exists once its audio is durably stored.
			asset, err := cloud.Upload(ctx, data, fileHeader.Filename, "references")
			if err != nil {
				err := xerrors.New(err)
				logger.ErrorContext(ctx, "reference audio upload failed", slog.Any("error", err))
				writeJSONError(w, http.StatusBadGateway, "failed to store reference audio")
				return
			}

			song := &models.ReferenceSong{
				Title:         title,
				Artist:        strings.TrimSpace(r.FormValue("artist")),
				Audio:         *asset,
				TempoBPM:      formInt(r, "tempoBpm", 0),
				TimeSignature: strings.TrimSpace(r.FormValue("timeSignature")),
				Key:           strings.TrimSpace(r.FormValue("key")),
				Difficulty:    strings.TrimSpace(r.FormValue("difficulty")),
				IsActive:      true,
				CreatedAt:     time.Now(),
			}
			if r.FormValue("isActive") != "" {
				song.IsActive = formBool(r, "isActive")
			}

			id, err := dbClient.CreateReferenceSong(ctx, song)
			if err != nil {
				err := xerrors.New(err)
				logger.ErrorContext(ctx, "failed to save reference song", slog.Any("error", err))
				if deleteErr := cloud.Delete(ctx, asset.PublicID); deleteErr != nil {
					logger.WarnContext(ctx, "failed to roll back reference upload",
						slog.String("publicID", asset.PublicID),
						slog.Any("error", deleteErr),
					)
				}
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			song.ID = id
			writeJSONData(w, http.StatusCreated, song)

		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func newReferenceItemHandler(dbClient db.DBClient, cloud cloudstore.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET, DELETE")
		if handlePreflight(w, r) {
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/references/")
		if id == "" || strings.Contains(id, "/") {
			writeJSONError(w, http.StatusNotFound, "reference song not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			song, err := dbClient.GetReferenceSong(ctx, id)
			if err != nil {
				logger.ErrorContext(ctx, "failed to load reference song", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			if song == nil {
				writeJSONError(w, http.StatusNotFound, "reference song not found")
				return
			}
			writeJSONData(w, http.StatusOK, song)

		case http.MethodDelete:
			song, err := dbClient.GetReferenceSong(ctx, id)
			if err != nil {
				logger.ErrorContext(ctx, "failed to load reference song", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			if song == nil {
				writeJSONError(w, http.StatusNotFound, "reference song not found")
				return
			}

			if song.Audio.PublicID != "" {
				if err := cloud.Delete(ctx, song.Audio.PublicID); err != nil {
					logger.WarnContext(ctx, "failed to delete reference audio, removing record anyway",
						slog.String("publicID", song.Audio.PublicID),
						slog.Any("error", err),
					)
				}
			}
			if err := dbClient.DeleteReferenceSong(ctx, id); err != nil {
				logger.ErrorContext(ctx, "failed to delete reference song", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			writeJSONData(w, http.StatusOK, map[string]string{"deleted": id})

		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func newUserSongsHandler(dbClient db.DBClient) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		songs, err := dbClient.ListUserSongs(ctx, middleware.UserID(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "failed to list user songs", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, songs)
	}
}

func newUserSongItemHandler(dbClient db.DBClient, cloud cloudstore.Store) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET, DELETE")
		if handlePreflight(w, r) {
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/songs/")
		if id == "" || strings.Contains(id, "/") {
			writeJSONError(w, http.StatusNotFound, "song not found")
			return
		}

		song, err := dbClient.GetUserSong(ctx, id)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load user song", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		if song == nil || song.OwnerID != middleware.UserID(ctx) {
			writeJSONError(w, http.StatusNotFound, "song not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSONData(w, http.StatusOK, song)

		case http.MethodDelete:
			if song.Audio.PublicID != "" {
				if err := cloud.Delete(ctx, song.Audio.PublicID); err != nil {
					logger.WarnContext(ctx, "failed to delete song audio, removing record anyway",
						slog.String("publicID", song.Audio.PublicID),
						slog.Any("error", err),
					)
				}
			}
			if err := dbClient.DeleteUserSong(ctx, id); err != nil {
				logger.ErrorContext(ctx, "failed to delete user song", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
				return
			}
			writeJSONData(w, http.StatusOK, map[string]string{"deleted": id})

		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func newPracticeScoreHandler(service *aipractice.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}

		var fileHeader *multipart.FileHeader
		if r.MultipartForm.File != nil {
			if headers := r.MultipartForm.File["audio"]; len(headers) > 0 {
				fileHeader = headers[0]
			}
		}
		if fileHeader == nil {
			writeJSONError(w, http.StatusBadRequest, "audio file is required")
			return
		}
		data, err := readUpload(fileHeader)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unable to read uploaded audio")
			return
		}
		if len(data) == 0 {
			writeJSONError(w, http.StatusBadRequest, "audio file is empty")
			return
		}

		sub := aipractice.Submission{
			UserID:      middleware.UserID(ctx),
			Audio:       data,
			Filename:    fileHeader.Filename,
			LessonID:    strings.TrimSpace(r.FormValue("lessonId")),
			CourseID:    strings.TrimSpace(r.FormValue("courseId")),
			Meta:        collectMeta(r.MultipartForm),
			SaveToCloud: formBool(r, "saveToCloud"),
		}

		result, err := service.ScoreSubmission(ctx, sub)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "practice scoring failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, result)
	}
}

func newPracticeScoreFeaturesHandler(service *aipractice.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body struct {
			Features    map[string]interface{} `json:"features"`
			LessonID    string                 `json:"lessonId"`
			CourseID    string                 `json:"courseId"`
			Meta        map[string]string      `json:"meta"`
			SaveToCloud bool                   `json:"saveToCloud"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		if len(body.Features) == 0 {
			writeJSONError(w, http.StatusBadRequest, "features are required")
			return
		}

		sub := aipractice.Submission{
			UserID:      middleware.UserID(ctx),
			LessonID:    body.LessonID,
			CourseID:    body.CourseID,
			Meta:        body.Meta,
			SaveToCloud: body.SaveToCloud,
		}

		result, missingOrInvalid, err := service.ScoreFeatures(ctx, sub, body.Features)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "feature scoring failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		if len(missingOrInvalid) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, apiResponse{
				Success: false,
				Message: "features missing or invalid: " + strings.Join(missingOrInvalid, ", "),
				Data:    map[string]interface{}{"missingOrInvalid": missingOrInvalid},
			})
			return
		}
		writeJSONData(w, http.StatusOK, result)
	}
}

func newPracticeHistoryHandler(service *aipractice.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var limit int64
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		page, err := service.History(ctx, middleware.UserID(ctx), limit, r.URL.Query().Get("lessonId"))
		if err != nil {
			logger.ErrorContext(ctx, "failed to load practice history", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, page)
	}
}

func newPracticeAudioHandler(service *aipractice.Service) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "GET")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		records, err := service.ListUserAudio(ctx, middleware.UserID(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "failed to list practice audio", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, internalMessage(err))
			return
		}
		writeJSONData(w, http.StatusOK, records)
	}
}

func newChatRecommendHandler(assistant *chat.Assistant, speaker *tts.Client) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		applyCORS(w, "POST")
		if handlePreflight(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if assistant == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "assistant is not configured")
			return
		}

		var body struct {
			Message string `json:"message"`
			Speak   bool   `json:"speak"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}

		reply, err := assistant.Recommend(body.Message)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "assistant request failed", slog.Any("error", err))
			writeJSONError(w, http.StatusBadGateway, "assistant request failed")
			return
		}

		data := map[string]interface{}{"reply": reply}
		if body.Speak && speaker != nil {
			audio, ttsErr := speaker.Synthesize(ctx, reply)
			if ttsErr != nil {
				logger.WarnContext(ctx, "speech synthesis failed, returning text only",
					slog.Any("error", ttsErr))
			} else {
				data["audio"] = audio
			}
		}
		writeJSONData(w, http.StatusOK, data)
	}
}

func serve(protocol, port string) {
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	dbClient, err := db.NewDBClient()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	files := scratch.New(utils.GetEnv("TMP_DIR", "tmp"))
	cloud := cloudstore.NewCloudinaryStore()
	runner := subproc.NewProcessRunner()

	comparator := compare.NewComparator(runner)
	compareService := compare.NewService(dbClient, cloud, files, comparator)

	bridge, err := aipractice.NewBridge(runner)
	if err != nil {
		log.Fatalf("failed to initialize scoring bridge: %v", err)
	}
	practiceService := aipractice.NewService(bridge, dbClient, cloud, files)

	assistant, err := chat.NewAssistant()
	if err != nil {
		log.Printf("WARNING: chat assistant disabled: %v\n", err)
		assistant = nil
	}
	speaker := tts.NewClient()

	revocations := middleware.NewMemoryRevocationStore()
	defer revocations.Close()

	controller := newSocketController(assistant, bridge)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitBridgeInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestBridgeInfo", func(socket socketio.Conn) {
		log.Printf("requestBridgeInfo received from %s\n", socket.ID())
		controller.handleRequestBridgeInfo(socket)
	})

	server.OnEvent("/", "chatMessage", func(socket socketio.Conn, msg string) {
		log.Printf("chatMessage event received from %s, length: %d\n", socket.ID(), len(msg))
		// Run handler in goroutine to prevent blocking, with panic recovery
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleChatMessage for socket %s: %v\n", socket.ID(), r)
					socket.Emit("chatError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleChatMessage(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := protocol == "https"

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/api/health", newHealthHandler())
	mux.HandleFunc("/api/auth/token", newAuthTokenHandler())
	mux.HandleFunc("/api/auth/logout", middleware.RequireAuth(revocations, newLogoutHandler(revocations)))
	mux.HandleFunc("/api/compare/song", middleware.RequireAuth(revocations, newCompareHandler(compareService)))
	mux.HandleFunc("/api/references", middleware.RequireAuth(revocations, newReferencesHandler(dbClient, cloud)))
	mux.HandleFunc("/api/references/", middleware.RequireAuth(revocations, newReferenceItemHandler(dbClient, cloud)))
	mux.HandleFunc("/api/songs", middleware.RequireAuth(revocations, newUserSongsHandler(dbClient)))
	mux.HandleFunc("/api/songs/", middleware.RequireAuth(revocations, newUserSongItemHandler(dbClient, cloud)))
	mux.HandleFunc("/api/practice/score", middleware.RequireAuth(revocations, newPracticeScoreHandler(practiceService)))
	mux.HandleFunc("/api/practice/score-features", middleware.RequireAuth(revocations, newPracticeScoreFeaturesHandler(practiceService)))
	mux.HandleFunc("/api/practice/history", middleware.RequireAuth(revocations, newPracticeHistoryHandler(practiceService)))
	mux.HandleFunc("/api/practice/audio", middleware.RequireAuth(revocations, newPracticeAudioHandler(practiceService)))
	mux.HandleFunc("/api/chat/recommend", newChatRecommendHandler(assistant, speaker))
	mux.Handle("/", http.FileServer(http.Dir("static")))

	serveHTTP(server, serveHTTPS, port, mux)
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY", "")
		certFile := utils.GetEnv("CERT_FILE", "")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
