// internal/models/settings.go
package models

import "github.com/impostor-game/impostor/internal/apperr"

// SettingBound is the allowed range for a recognized integer setting.
type SettingBound struct {
	Min, Max, Default int
}

// SettingBounds maps the recognized settings keys to their ranges.
// round_time doubles as the vote duration.
var SettingBounds = map[string]SettingBound{
	"max_players":   {Min: 2, Max: 20, Default: 8},
	"turn_duration": {Min: 5, Max: 300, Default: 30},
	"round_time":    {Min: 10, Max: 300, Default: 60},
	"vote_duration": {Min: 10, Max: 300, Default: 60},
	"turn_grace":    {Min: 5, Max: 300, Default: 60},
}

// DefaultSettings returns a fresh copy of the default room settings.
func DefaultSettings() map[string]int {
	return map[string]int{
		"round_time":    SettingBounds["round_time"].Default,
		"max_players":   SettingBounds["max_players"].Default,
		"turn_duration": SettingBounds["turn_duration"].Default,
		"turn_grace":    SettingBounds["turn_grace"].Default,
	}
}

// ValidateSetting checks a recognized key against its bound. Unrecognized keys
// pass through untouched; the store keeps them as strings.
func ValidateSetting(key string, value int) error {
	bound, ok := SettingBounds[key]
	if !ok {
		return nil
	}
	if value < bound.Min || value > bound.Max {
		return apperr.Validationf("%s must be between %d and %d", key, bound.Min, bound.Max)
	}
	return nil
}

// IntSetting reads a known numeric key from a settings map, tolerating the
// string/float shapes a KV store round-trip produces.
func IntSetting(settings map[string]any, key string, def int) int {
	v, ok := settings[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
