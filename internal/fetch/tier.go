// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"net/url"
	"strings"
)

// PublicGateway is the Bot API server run by Telegram.
const PublicGateway = "https://api.telegram.org"

const (
	// StandardLimit is the largest file the public Bot API lets bots download.
	StandardLimit = 20 << 20
	// ExtendedLimit is the largest file a self-hosted Bot API server serves.
	ExtendedLimit = 2 << 30
	// MemoryThreshold is the size from which payloads go to a temporary file.
	MemoryThreshold = 50 << 20
)

// Tier holds size limits. It is not changed after startup.
type Tier struct {
	StandardLimit   int64
	ExtendedLimit   int64
	MemoryThreshold int64
	// Extended is true when files come from a self-hosted gateway.
	Extended bool
}

// NewTier returns the default limits for gateway.
func NewTier(gateway string) Tier {
	return Tier{
		StandardLimit:   StandardLimit,
		ExtendedLimit:   ExtendedLimit,
		MemoryThreshold: MemoryThreshold,
		Extended:        !IsPublicGateway(gateway),
	}
}

// Limit returns the largest declared size accepted.
func (t Tier) Limit() int64 {
	if t.Extended {
		return t.ExtendedLimit
	}
	return t.StandardLimit
}

// Spill reports whether a payload of size bytes goes to a temporary file.
func (t Tier) Spill(size int64) bool { return size >= t.MemoryThreshold }

// IsPublicGateway reports whether gateway is the Telegram-hosted Bot API. An
// empty gateway means the public one.
func IsPublicGateway(gateway string) bool {
	if gateway == "" {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(gateway))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "api.telegram.org")
}
