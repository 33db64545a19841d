package services

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"
)

// Stock ElevenLabs voice IDs used before a family member's own voice clone
// is ready. Warm, older-sounding voices first.
var stockVoices = []string{
	"EXAVITQu4vr4xnSDxMaL", // Rachel
	"21m00Tcm4TlvDq8ikWAM", // Domi
	"MF3mGyEYCl7XYWbV9V6O", // Dorothy
	"pNInz6obpgDQGcFmaJgB", // Adam
	"VR6AewLTigWG4xSOukaG", // Josh
	"bVMeCyTHy58xNoL34h3p", // Clyde
}

// PickDeterministicVoice returns a stock voice ID derived from the family
// member's name, so the same member always speaks with the same fallback
// voice.
func PickDeterministicVoice(name string) string {
	if len(stockVoices) == 0 {
		return "pNInz6obpgDQGcFmaJgB" // fallback Adam
	}
	// Hash the name to pick a voice
	h := sha1.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	sum := h.Sum(nil)
	idx := binary.BigEndian.Uint16(sum) % uint16(len(stockVoices))
	return stockVoices[idx]
}
