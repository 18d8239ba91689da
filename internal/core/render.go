// ABOUTME: Pure text functions for windows: rendering, hashing and truncation
// ABOUTME: Outputs depend only on their inputs so rebuilds are reproducible
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/harper/recall/internal/models"
)

// NormalizeText collapses all whitespace runs to single spaces and trims
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RenderWindow renders turns as "role: content" lines in index order
func RenderWindow(turns []models.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, string(t.Role)+": "+NormalizeText(t.Content))
	}
	return strings.Join(lines, "\n")
}

// TextHash returns the hex sha256 of the normalised text
func TextHash(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = NormalizeText(l)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// TruncateForEmbedding keeps the most recent turn lines that fit in maxRunes.
// When the newest line alone is too long, its trailing runes are kept.
func TruncateForEmbedding(text string, maxRunes int) string {
	if maxRunes <= 0 || len([]rune(text)) <= maxRunes {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := 0
	used := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n := len([]rune(lines[i]))
		if kept > 0 {
			n++ // joining newline
		}
		if used+n > maxRunes {
			break
		}
		used += n
		kept++
	}

	if kept == 0 {
		last := []rune(lines[len(lines)-1])
		return string(last[len(last)-maxRunes:])
	}
	return strings.Join(lines[len(lines)-kept:], "\n")
}
