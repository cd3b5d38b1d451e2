package model

import (
	"crypto/rand"
	"encoding/hex"
)

// randomHex8 returns 8 lowercase hex characters from a cryptographically
// random source. It is the building block for vm and session ids, which
// the spec pins to a fixed "<prefix>-<8 hex>" shape rather than a general
// purpose id format like ULID or UUID.
func randomHex8() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read on an *os.File-backed source only fails if the
		// underlying read fails catastrophically; there is no meaningful
		// fallback id scheme to degrade to.
		panic("model: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// NewVmID generates a new opaque VM id in the "vortex-<8 hex>" format.
func NewVmID() string {
	return "vortex-" + randomHex8()
}

// NewSessionID generates a new session id in the "session-<8 hex>" format.
func NewSessionID() string {
	return "session-" + randomHex8()
}

// VmIDPrefix is the prefix used to recognize vortex-managed VMs in a
// backend's raw inventory during list reconciliation.
const VmIDPrefix = "vortex-"
