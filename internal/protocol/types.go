package protocol

import (
	"crypto/sha256"
	"encoding/hex"
)

// Token is the literal ASCII status written back for every frame.
type Token string

const (
	TokenAdmissionRejected Token = "maksbaglama"
	TokenTooLarge          Token = "msg_too_large"
	TokenInvalidJSON       Token = "invalid_json"
	TokenRateLimited       Token = "rate_limited"
	TokenInvalidFormat     Token = "invalid_format"
	TokenUnknownKey        Token = "notkey"
	TokenRejected          Token = "vdurum"
	TokenHWIDMismatch      Token = "nothwid"
	TokenVersionRejected   Token = "notversion"
	TokenExpired           Token = "exptime"
	TokenAccess            Token = "authaccess"
)

func (t Token) String() string { return string(t) }

// Tokens lists every token in wire order; used for metric label seeding.
var Tokens = []Token{
	TokenAdmissionRejected,
	TokenTooLarge,
	TokenInvalidJSON,
	TokenRateLimited,
	TokenInvalidFormat,
	TokenUnknownKey,
	TokenRejected,
	TokenHWIDMismatch,
	TokenVersionRejected,
	TokenExpired,
	TokenAccess,
}

// Credentials is a validated request frame.
type Credentials struct {
	Key     string `json:"key"`
	HWID    string `json:"hwid"`
	Version string `json:"version"`
	PC      string `json:"pc"`
	Hash    string `json:"hash" validate:"sha256hex"`
}

// ComputeHash returns hex(sha256(key || hwid || version || pc)) with no
// separators between the fields.
func ComputeHash(key, hwid, version, pc string) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte(hwid))
	h.Write([]byte(version))
	h.Write([]byte(pc))
	return hex.EncodeToString(h.Sum(nil))
}

// Expected returns the digest the client should have sent.
func (c Credentials) Expected() string {
	return ComputeHash(c.Key, c.HWID, c.Version, c.PC)
}
