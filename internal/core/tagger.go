// ABOUTME: Deterministic experiment arm assignment per conversation
// ABOUTME: Pure function of (user, conversation, arms); no storage access
package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// AssignTestGroup maps a conversation onto one of arms experiment groups
func AssignTestGroup(userID, conversationID string, arms int) int {
	if arms <= 1 {
		return 0
	}
	sum := sha256.Sum256([]byte(userID + "\x00" + conversationID))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(arms))
}
