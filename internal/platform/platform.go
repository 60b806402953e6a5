// Package platform knows the closed set of supported conferencing platforms
// and how to translate between a meeting URL and the platform's own native
// meeting identifier. All functions are pure; no I/O happens here.
package platform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meetscribe/meetscribe/internal/apperr"
)

// Platform identifies a supported conferencing platform.
type Platform string

const (
	GoogleMeet Platform = "google_meet"
	Zoom       Platform = "zoom"
	Teams      Platform = "teams"
)

// All lists every supported platform, in a stable order.
var All = []Platform{GoogleMeet, Zoom, Teams}

// IsValid reports whether p is a recognised platform.
func (p Platform) IsValid() bool {
	switch p {
	case GoogleMeet, Zoom, Teams:
		return true
	}
	return false
}

// Parse converts a raw platform tag into a [Platform], or returns a
// validation error naming the unknown tag.
func Parse(tag string) (Platform, error) {
	p := Platform(tag)
	if !p.IsValid() {
		return "", fmt.Errorf("platform: unknown platform %q: %w", tag, apperr.ErrValidation)
	}
	return p, nil
}

// Per-platform URL shapes. The rules are literal: anything that does not
// match is rejected rather than guessed at.
var (
	meetIDPattern  = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)
	meetURLPattern = regexp.MustCompile(`meet\.google\.com/([a-z]{3}-[a-z]{4}-[a-z]{3})(?:[/?#]|$)`)

	zoomIDPattern  = regexp.MustCompile(`^\d{9,11}$`)
	zoomURLPattern = regexp.MustCompile(`zoom\.us/j/(\d{9,11})(?:[/?#]|$)`)

	teamsIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_%.\-]+$`)
	teamsURLPattern = regexp.MustCompile(`teams\.(?:microsoft|live)\.com/(?:l/)?meetup-join/([A-Za-z0-9_%.\-]+)`)
)

// Extract pulls the platform-specific native meeting id out of meetingURL.
// Two URL spellings that normalise to the same native id yield the same
// result, so callers racing on the same meeting collide on the same triple.
func Extract(p Platform, meetingURL string) (string, error) {
	url := strings.TrimSpace(meetingURL)
	if url == "" {
		return "", fmt.Errorf("platform: empty meeting URL: %w", apperr.ErrValidation)
	}

	var pattern *regexp.Regexp
	switch p {
	case GoogleMeet:
		pattern = meetURLPattern
	case Zoom:
		pattern = zoomURLPattern
	case Teams:
		pattern = teamsURLPattern
	default:
		return "", fmt.Errorf("platform: unknown platform %q: %w", p, apperr.ErrValidation)
	}

	m := pattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("platform: %s URL %q does not match the expected shape: %w", p, url, apperr.ErrValidation)
	}
	return m[1], nil
}

// ValidateNativeID checks that nativeID has the expected shape for p. Used
// when clients supply the native id directly instead of a URL.
func ValidateNativeID(p Platform, nativeID string) error {
	var pattern *regexp.Regexp
	switch p {
	case GoogleMeet:
		pattern = meetIDPattern
	case Zoom:
		pattern = zoomIDPattern
	case Teams:
		pattern = teamsIDPattern
	default:
		return fmt.Errorf("platform: unknown platform %q: %w", p, apperr.ErrValidation)
	}
	if !pattern.MatchString(nativeID) {
		return fmt.Errorf("platform: %q is not a valid %s meeting id: %w", nativeID, p, apperr.ErrValidation)
	}
	return nil
}

// BuildURL constructs the canonical meeting URL for a native id. Teams join
// links carry an opaque context blob that cannot be reconstructed from the id
// alone, so Teams is extract-only and BuildURL returns a validation error.
func BuildURL(p Platform, nativeID string) (string, error) {
	if err := ValidateNativeID(p, nativeID); err != nil {
		return "", err
	}
	switch p {
	case GoogleMeet:
		return "https://meet.google.com/" + nativeID, nil
	case Zoom:
		return "https://zoom.us/j/" + nativeID, nil
	case Teams:
		return "", fmt.Errorf("platform: teams meeting URLs cannot be constructed from a native id: %w", apperr.ErrValidation)
	}
	return "", fmt.Errorf("platform: unknown platform %q: %w", p, apperr.ErrValidation)
}
