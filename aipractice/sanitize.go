package aipractice

import (
	"encoding/json"
	"math"
	"strconv"
)

// RequiredFeatureKeys is the fixed 12-key vector the scoring models consume.
// Order matters only for reporting; every key is mandatory.
var RequiredFeatureKeys = []string{
	"pitch_mean",
	"pitch_std",
	"pitch_range",
	"onset_rate",
	"onset_strength_mean",
	"tempo_bpm",
	"tempo_stability",
	"rhythm_consistency",
	"spectral_centroid_mean",
	"spectral_rolloff_mean",
	"zero_crossing_rate",
	"rms_energy_mean",
}

// SanitizeFeatures validates a raw feature payload against the required key
// set. Every key must be present and coercible to a finite number; nothing is
// ever silently defaulted. The second return lists the exact offending keys,
// in the canonical order.
func SanitizeFeatures(raw map[string]interface{}) (map[string]float64, []string) {
	clean := make(map[string]float64, len(RequiredFeatureKeys))
	var missingOrInvalid []string

	for _, key := range RequiredFeatureKeys {
		value, ok := raw[key]
		if !ok {
			missingOrInvalid = append(missingOrInvalid, key)
			continue
		}
		number, ok := coerceFinite(value)
		if !ok {
			missingOrInvalid = append(missingOrInvalid, key)
			continue
		}
		clean[key] = number
	}

	if len(missingOrInvalid) > 0 {
		return nil, missingOrInvalid
	}
	return clean, nil
}

func coerceFinite(value interface{}) (float64, bool) {
	var number float64
	switch v := value.(type) {
	case float64:
		number = v
	case float32:
		number = float64(v)
	case int:
		number = float64(v)
	case int64:
		number = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		number = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		number = parsed
	default:
		return 0, false
	}

	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}
