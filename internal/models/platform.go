package models

import (
	"fmt"
	"strings"
)

// Platform identifies a publishing target. The set is closed.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformThreads   Platform = "threads"
	PlatformYouTube   Platform = "youtube"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformTwitter,
	PlatformInstagram,
	PlatformFacebook,
	PlatformLinkedIn,
	PlatformThreads,
	PlatformYouTube,
}

// Limits describes what a platform accepts.
type Limits struct {
	MaxLength     int  `json:"max_length"`
	RequiresImage bool `json:"requires_image"`
	RequiresVideo bool `json:"requires_video"`
}

var platformLimits = map[Platform]Limits{
	PlatformTwitter:   {MaxLength: 280},
	PlatformInstagram: {MaxLength: 2200, RequiresImage: true},
	PlatformFacebook:  {MaxLength: 63206},
	PlatformLinkedIn:  {MaxLength: 3000},
	PlatformThreads:   {MaxLength: 500},
	PlatformYouTube:   {MaxLength: 100, RequiresVideo: true},
}

// Limits returns the platform's limits. Unknown platforms get the zero value.
func (p Platform) Limits() Limits {
	return platformLimits[p]
}

func (p Platform) Valid() bool {
	_, ok := platformLimits[p]
	return ok
}

func (p Platform) String() string {
	return string(p)
}

// ParsePlatform accepts the canonical names plus a few aliases seen in user input.
func ParsePlatform(s string) (Platform, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "x":
		name = string(PlatformTwitter)
	case "youtube_short", "youtube_shorts", "shorts":
		name = string(PlatformYouTube)
	case "ig":
		name = string(PlatformInstagram)
	}
	p := Platform(name)
	if !p.Valid() {
		return "", fmt.Errorf("unsupported platform %q", s)
	}
	return p, nil
}

// ParsePlatforms parses and de-duplicates a list, keeping first-seen order.
func ParsePlatforms(names []string) ([]Platform, error) {
	out := make([]Platform, 0, len(names))
	for _, n := range names {
		p, err := ParsePlatform(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return UniquePlatforms(out), nil
}

// UniquePlatforms drops repeated platforms, keeping first-seen order.
func UniquePlatforms(platforms []Platform) []Platform {
	seen := make(map[Platform]bool, len(platforms))
	out := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
