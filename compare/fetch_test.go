package compare

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guitar-practice/models"
	"guitar-practice/scratch"
)

type erroringReferenceStore struct {
	err error
}

func (s erroringReferenceStore) GetReferenceSong(ctx context.Context, id string) (*models.ReferenceSong, error) {
	return nil, s.err
}

func TestFetchReferenceAudioLookupFailureIsNotAbsence(t *testing.T) {
	t.Parallel()

	files := scratch.New(filepath.Join(t.TempDir(), "scratch"))
	store := erroringReferenceStore{err: errors.New("connection refused")}

	_, _, err := FetchReferenceAudio(context.Background(), store, files, "ref-1")
	if err == nil {
		t.Fatal("expected error for failing lookup")
	}
	if !strings.Contains(err.Error(), "reference lookup failed") {
		t.Errorf("error = %q, want lookup-failure wording", err)
	}
	if strings.Contains(err.Error(), "reference not found") {
		t.Errorf("store outage reported as a missing reference: %q", err)
	}
	if !errors.Is(err, store.err) {
		t.Error("underlying store error should be wrapped")
	}
}

func TestFetchReferenceAudioMissingReference(t *testing.T) {
	t.Parallel()

	files := scratch.New(filepath.Join(t.TempDir(), "scratch"))

	_, _, err := FetchReferenceAudio(context.Background(), &fakeStore{}, files, "ref-1")
	if err == nil {
		t.Fatal("expected error for unknown reference")
	}
	if !strings.Contains(err.Error(), "reference not found") {
		t.Errorf("error = %q, want not-found wording", err)
	}
}

func TestFetchReferenceAudioDownloadsAndStages(t *testing.T) {
	t.Parallel()

	audioServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("reference-bytes"))
	}))
	defer audioServer.Close()

	files := scratch.New(filepath.Join(t.TempDir(), "scratch"))
	store := &fakeStore{reference: &models.ReferenceSong{
		ID:    "ref-1",
		Audio: models.AudioAsset{URL: audioServer.URL, Format: "mp3"},
	}}

	path, ref, err := FetchReferenceAudio(context.Background(), store, files, "ref-1")
	if err != nil {
		t.Fatalf("FetchReferenceAudio returned error: %v", err)
	}
	defer files.Remove(path)

	if ref == nil || ref.ID != "ref-1" {
		t.Errorf("unexpected reference: %+v", ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read staged file: %v", err)
	}
	if string(data) != "reference-bytes" {
		t.Errorf("staged content = %q", data)
	}
	if !strings.HasSuffix(path, ".mp3") {
		t.Errorf("staged path should carry the audio format: %s", path)
	}
}

func TestFetchReferenceAudioEmptyDownload(t *testing.T) {
	t.Parallel()

	audioServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer audioServer.Close()

	files := scratch.New(filepath.Join(t.TempDir(), "scratch"))
	store := &fakeStore{reference: &models.ReferenceSong{
		ID:    "ref-1",
		Audio: models.AudioAsset{URL: audioServer.URL},
	}}

	_, _, err := FetchReferenceAudio(context.Background(), store, files, "ref-1")
	if err == nil {
		t.Fatal("expected error for empty download body")
	}
	if !strings.Contains(err.Error(), "download failed") {
		t.Errorf("error = %q, want download-failure wording", err)
	}
}
