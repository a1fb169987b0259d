package auth

import (
	"errors"
	"time"
)

// Token lengths.
const (
	// RawTokenLength is the length of a minted token: a UUID without dashes.
	RawTokenLength = 32

	// PrefixLength is how much of the raw token is kept in clear text to
	// identify it in listings and deletions.
	PrefixLength = 8
)

// CubeOwnerPrefix marks tokens minted for a provisioned cube.
const CubeOwnerPrefix = "cube:"

// Sentinel errors.
var (
	// ErrTokenInvalid is returned for unknown, malformed or badly signed tokens.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrTokenNotFound is returned when no stored token matches a prefix.
	ErrTokenNotFound = errors.New("auth: token not found")

	// ErrOwnerRequired is returned when a token is created without an owner.
	ErrOwnerRequired = errors.New("auth: token owner required")
)

// Token is a stored API token. Raw is only populated right after minting.
type Token struct {
	Prefix    string    `json:"prefix"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	Raw       string    `json:"token,omitempty"`
}

// CubeOwner returns the token owner name used for a provisioned cube.
func CubeOwner(cubeID string) string {
	return CubeOwnerPrefix + cubeID
}
