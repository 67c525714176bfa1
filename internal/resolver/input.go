// Package resolver turns a market URL, slug or condition id into concrete
// market metadata, following recurring market families across rollovers.
package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// InputKind says how a caller-supplied market reference is interpreted.
type InputKind int

const (
	InputSlug InputKind = iota
	InputConditionID
)

func (k InputKind) String() string {
	if k == InputConditionID {
		return "condition_id"
	}
	return "slug"
}

// Input is a parsed market reference.
type Input struct {
	Kind  InputKind
	Value string
}

// minConditionIDLen is the length a 0x-prefixed string must exceed to be
// read as a condition id.
const minConditionIDLen = 40

// ParseInput classifies raw as a slug or condition id. URLs are reduced to
// the path segment following /event/.
func ParseInput(raw string) (Input, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Input{}, fmt.Errorf("resolver: %w: empty input", domain.ErrInvalidInput)
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return Input{}, fmt.Errorf("resolver: %w: %v", domain.ErrInvalidInput, err)
		}
		slug, ok := eventSegment(u.Path)
		if !ok {
			return Input{}, fmt.Errorf("resolver: %w: no /event/ segment in %q", domain.ErrInvalidInput, s)
		}
		return Input{Kind: InputSlug, Value: slug}, nil
	}

	if strings.Contains(s, "/event/") {
		slug, ok := eventSegment(strings.SplitN(s, "?", 2)[0])
		if !ok {
			return Input{}, fmt.Errorf("resolver: %w: no /event/ segment in %q", domain.ErrInvalidInput, s)
		}
		return Input{Kind: InputSlug, Value: slug}, nil
	}

	if strings.HasPrefix(s, "0x") && len(s) > minConditionIDLen {
		return Input{Kind: InputConditionID, Value: s}, nil
	}

	return Input{Kind: InputSlug, Value: s}, nil
}

func eventSegment(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "event" && parts[i+1] != "" {
			return parts[i+1], true
		}
	}
	return "", false
}
