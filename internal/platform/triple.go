package platform

import (
	"fmt"
	"strings"

	"github.com/meetscribe/meetscribe/internal/apperr"
)

// tripleSep joins the three triple components. None of the components may
// contain it: native ids are shape-checked per platform and tokens are
// rejected by [NewTriple] if they carry the separator.
const tripleSep = ":"

// Triple is the cluster-wide key identifying an orchestrator target:
// (platform, native meeting id, API token). The token is part of the key on
// purpose: two tenants racing on the same native meeting must never collide
// on the same lock.
type Triple struct {
	Platform Platform
	NativeID string
	Token    string
}

// NewTriple forms the canonical triple, validating each component.
func NewTriple(p Platform, nativeID, token string) (Triple, error) {
	if err := ValidateNativeID(p, nativeID); err != nil {
		return Triple{}, err
	}
	if token == "" {
		return Triple{}, fmt.Errorf("platform: empty token in triple: %w", apperr.ErrValidation)
	}
	if strings.Contains(token, tripleSep) {
		return Triple{}, fmt.Errorf("platform: token must not contain %q: %w", tripleSep, apperr.ErrValidation)
	}
	return Triple{Platform: p, NativeID: nativeID, Token: token}, nil
}

// String returns the canonical key form "platform:nativeID:token".
func (t Triple) String() string {
	return string(t.Platform) + tripleSep + t.NativeID + tripleSep + t.Token
}
