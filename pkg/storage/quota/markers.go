package quota

import "strings"

// Markers classify keys by case-insensitive substring match.
type Markers struct {
	// Temporary keys are deleted by the light tier.
	Temporary []string `yaml:"temporary"`

	// Cache keys are candidates for the standard tier.
	Cache []string `yaml:"cache"`

	// Important keys are excluded from the standard tier.
	Important []string `yaml:"important"`

	// HighPriority keys are never deleted automatically.
	HighPriority []string `yaml:"high_priority"`

	// MediumPriority keys are deleted only when emergency cleanup of low
	// priority keys was not enough.
	MediumPriority []string `yaml:"medium_priority"`
}

// DefaultMarkers returns the built-in key markers.
func DefaultMarkers() Markers {
	return Markers{
		Temporary:      []string{"temp", "tmp", "scratch"},
		Cache:          []string{"cache"},
		Important:      []string{"important"},
		HighPriority:   []string{"important", "settings", "credentials"},
		MediumPriority: []string{"profile", "user"},
	}
}

// priority of a key in the emergency tier
type priority int

const (
	priorityLow priority = iota
	priorityMedium
	priorityHigh
)

func containsAny(key string, markers []string) bool {
	lower := strings.ToLower(key)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// IsTemporary reports whether key carries a temporary marker.
func (m Markers) IsTemporary(key string) bool {
	return containsAny(key, m.Temporary)
}

// IsEvictableCache reports whether key is a cache key without an important marker.
func (m Markers) IsEvictableCache(key string) bool {
	return containsAny(key, m.Cache) && !containsAny(key, m.Important)
}

func (m Markers) classify(key string) priority {
	switch {
	case containsAny(key, m.HighPriority):
		return priorityHigh
	case containsAny(key, m.MediumPriority):
		return priorityMedium
	default:
		return priorityLow
	}
}
