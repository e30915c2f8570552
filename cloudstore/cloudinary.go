// Package cloudstore talks to the Cloudinary media store. Audio is filed
// under the provider's "video" resource type because its taxonomy conflates
// the two.
package cloudstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"guitar-practice/models"
	"guitar-practice/utils"

	"github.com/google/uuid"
)

// Store is the remote media store surface the services depend on.
type Store interface {
	Upload(ctx context.Context, data []byte, originalName, folder string) (*models.AudioAsset, error)
	Delete(ctx context.Context, publicID string) error
	Exists(ctx context.Context, publicID string) (bool, error)
	URLFor(publicID string) string
}

// CloudinaryStore implements Store against the Cloudinary REST API.
type CloudinaryStore struct {
	client *http.Client
}

// NewCloudinaryStore returns a store with a bounded HTTP client. Credentials
// are not read here; they are re-validated on every call so late .env loading
// still works.
func NewCloudinaryStore() *CloudinaryStore {
	return &CloudinaryStore{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type credentials struct {
	cloudName string
	apiKey    string
	apiSecret string
}

func loadCredentials() (credentials, error) {
	creds := credentials{
		cloudName: utils.GetEnv("CLOUDINARY_CLOUD_NAME", ""),
		apiKey:    utils.GetEnv("CLOUDINARY_API_KEY", ""),
		apiSecret: utils.GetEnv("CLOUDINARY_API_SECRET", ""),
	}
	if creds.cloudName == "" || creds.apiKey == "" || creds.apiSecret == "" {
		return credentials{}, fmt.Errorf("cloudinary credentials are not configured")
	}
	return creds, nil
}

// signParams builds the SHA-1 request signature Cloudinary expects: the
// alphabetically sorted params joined with '&', followed by the API secret.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

type uploadResponse struct {
	PublicID  string  `json:"public_id"`
	SecureURL string  `json:"secure_url"`
	Format    string  `json:"format"`
	Duration  float64 `json:"duration"`
	Bytes     int64   `json:"bytes"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload pushes data into the given folder and returns the stored asset
// descriptor. Callers on compare-only paths must treat failures as non-fatal.
func (s *CloudinaryStore) Upload(ctx context.Context, data []byte, originalName, folder string) (*models.AudioAsset, error) {
	creds, err := loadCredentials()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("refusing to upload empty buffer")
	}
	if folder == "" {
		folder = utils.GetEnv("CLOUDINARY_FOLDER", "practice-audio")
	}

	publicID := buildPublicID(originalName)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := signParams(map[string]string{
		"folder":    folder,
		"public_id": publicID,
		"timestamp": timestamp,
	}, creds.apiSecret)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(originalName))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}

	fields := map[string]string{
		"api_key":   creds.apiKey,
		"timestamp": timestamp,
		"signature": signature,
		"folder":    folder,
		"public_id": publicID,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/video/upload", creds.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error.Message != "" {
		message := parsed.Error.Message
		if message == "" {
			message = resp.Status
		}
		return nil, fmt.Errorf("upload rejected: %s", message)
	}
	if parsed.PublicID == "" || parsed.SecureURL == "" {
		return nil, fmt.Errorf("upload response missing public_id or url")
	}

	return &models.AudioAsset{
		PublicID: parsed.PublicID,
		URL:      parsed.SecureURL,
		Format:   parsed.Format,
		Duration: parsed.Duration,
		Size:     parsed.Bytes,
	}, nil
}

type destroyResponse struct {
	Result string `json:"result"`
}

// Delete destroys the remote asset. Callers log and swallow failures; the
// local record is removed regardless, trading orphaned remote blobs for a
// consistent database.
func (s *CloudinaryStore) Delete(ctx context.Context, publicID string) error {
	creds, err := loadCredentials()
	if err != nil {
		return err
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := signParams(map[string]string{
		"public_id": publicID,
		"timestamp": timestamp,
	}, creds.apiSecret)

	form := url.Values{}
	form.Set("public_id", publicID)
	form.Set("api_key", creds.apiKey)
	form.Set("timestamp", timestamp)
	form.Set("signature", signature)

	endpoint := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/video/destroy", creds.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("destroy request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read destroy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("destroy rejected: %s - %s", resp.Status, string(respBody))
	}

	var parsed destroyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to parse destroy response: %w", err)
	}
	if parsed.Result != "ok" && parsed.Result != "not found" {
		return fmt.Errorf("destroy returned %q", parsed.Result)
	}
	return nil
}

// Exists probes the Admin API for the asset. A 404 means the remote copy is
// gone; history reads use this to prune stale records.
func (s *CloudinaryStore) Exists(ctx context.Context, publicID string) (bool, error) {
	creds, err := loadCredentials()
	if err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/resources/video/upload/%s",
		creds.cloudName, url.PathEscape(publicID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create resource request: %w", err)
	}
	req.SetBasicAuth(creds.apiKey, creds.apiSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("resource request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("resource probe returned %s", resp.Status)
	}
}

// URLFor builds the delivery URL for a stored asset.
func (s *CloudinaryStore) URLFor(publicID string) string {
	cloudName := utils.GetEnv("CLOUDINARY_CLOUD_NAME", "")
	return fmt.Sprintf("https://res.cloudinary.com/%s/video/upload/%s", cloudName, publicID)
}

func buildPublicID(originalName string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = strings.Join(strings.Fields(base), "_")
	if base == "" {
		base = "audio"
	}
	return fmt.Sprintf("%s_%s", base, uuid.NewString()[:8])
}
