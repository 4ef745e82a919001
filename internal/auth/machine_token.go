package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/xid"
)

const (
	machineTokenPrefix = "osm_"
	machineSecretBytes = 32
)

// MachineTokenGenerator issues static bearer tokens for scrapers and
// dashboards. Only their SHA-256 hashes go into the configuration.
//
// Format: osm_<xid>_<hex secret>. The xid part is not secret and is what
// gets logged.
type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// GenerateMachineToken returns a token and its hash.
func (m *MachineTokenGenerator) GenerateMachineToken() (string, string, error) {
	secret := make([]byte, machineSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := machineTokenPrefix + xid.New().String() + "_" + hex.EncodeToString(secret)
	return token, m.HashToken(token), nil
}

func (m *MachineTokenGenerator) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenID returns the public id part of token.
func (m *MachineTokenGenerator) TokenID(token string) (string, bool) {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return "", false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 2*machineSecretBytes {
		return "", false
	}
	if _, err := xid.FromString(id); err != nil {
		return "", false
	}
	return id, true
}

func (m *MachineTokenGenerator) ValidateTokenFormat(token string) bool {
	_, ok := m.TokenID(token)
	return ok
}
