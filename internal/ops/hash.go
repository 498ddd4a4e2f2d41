package ops

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash returns the config_hash: SHA-256 over the config's canonical JSON
// encoding. Two configs that are semantically equal but differ in YAML key
// order or comment text hash identically once round-tripped through the Go
// struct, matching the canonical-JSON approach used by the audit log.
func (c Config) Hash() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
