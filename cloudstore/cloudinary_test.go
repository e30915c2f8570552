package cloudstore

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"
)

func TestSignParamsSortsKeys(t *testing.T) {
	t.Parallel()

	params := map[string]string{
		"timestamp": "1700000000",
		"folder":    "references",
		"public_id": "blackbird_ab12cd34",
	}
	got := signParams(params, "secret")

	// Keys must be joined in lexicographic order before hashing.
	sum := sha1.Sum([]byte("folder=references&public_id=blackbird_ab12cd34&timestamp=1700000000secret"))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestSignParamsSecretChangesSignature(t *testing.T) {
	t.Parallel()

	params := map[string]string{"timestamp": "1700000000"}
	if signParams(params, "a") == signParams(params, "b") {
		t.Error("different secrets produced the same signature")
	}
}

func TestBuildPublicIDStripsExtensionAndWhitespace(t *testing.T) {
	t.Parallel()

	id := buildPublicID("my guitar take.wav")
	if strings.Contains(id, " ") {
		t.Errorf("public ID contains whitespace: %q", id)
	}
	if strings.Contains(id, ".wav") {
		t.Errorf("public ID contains extension: %q", id)
	}
	if !strings.HasPrefix(id, "my_guitar_take_") {
		t.Errorf("unexpected public ID prefix: %q", id)
	}
}

func TestBuildPublicIDEmptyNameFallsBack(t *testing.T) {
	t.Parallel()

	id := buildPublicID(".wav")
	if !strings.HasPrefix(id, "audio_") {
		t.Errorf("expected audio_ fallback, got %q", id)
	}
}

func TestBuildPublicIDUnique(t *testing.T) {
	t.Parallel()

	if buildPublicID("take.wav") == buildPublicID("take.wav") {
		t.Error("expected unique public IDs for identical names")
	}
}
