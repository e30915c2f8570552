package compare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"guitar-practice/models"
	"guitar-practice/scratch"
)

// ReferenceStore is the subset of persistence the fetcher needs.
type ReferenceStore interface {
	GetReferenceSong(ctx context.Context, id string) (*models.ReferenceSong, error)
}

var fetchClient = &http.Client{Timeout: 2 * time.Minute}

// FetchReferenceAudio resolves a reference song, downloads its stored audio
// and writes it into the scratch dir. The caller owns the returned path and
// must Remove it on every exit path.
func FetchReferenceAudio(ctx context.Context, store ReferenceStore, files *scratch.Manager, referenceSongID string) (string, *models.ReferenceSong, error) {
	ref, err := store.GetReferenceSong(ctx, referenceSongID)
	if err != nil {
		return "", nil, fmt.Errorf("reference lookup failed: %w", err)
	}
	if ref == nil {
		return "", nil, fmt.Errorf("reference not found: %s", referenceSongID)
	}
	if ref.Audio.URL == "" {
		return "", nil, fmt.Errorf("no audio on reference: %s", referenceSongID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Audio.URL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("download failed: %w", err)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("download failed: %s returned %s", ref.Audio.URL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("download failed: %w", err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("download failed: empty body from %s", ref.Audio.URL)
	}

	name := "ref_" + referenceSongID
	if ref.Audio.Format != "" {
		name += "." + ref.Audio.Format
	}
	path, err := files.Write(data, name)
	if err != nil {
		return "", nil, err
	}
	return path, ref, nil
}
