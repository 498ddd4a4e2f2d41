package ops

import (
	"fmt"
	"regexp"
)

// secretShapePatterns matches literal values that look like real secrets
// rather than env var names. Config must reference secrets only by the
// name of the environment variable that holds them; any literal
// secret-shaped value found in config aborts startup.
var secretShapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk-[a-z0-9]{16,}`),
	regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`),
	regexp.MustCompile(`^[A-Za-z0-9/+=]{40,}$`), // long base64-looking blob
}

// ScanSecrets walks the raw effective YAML/JSON text and rejects any value
// that looks like a literal secret rather than an env var reference. It is
// intentionally conservative: a false positive blocks arming, a false
// negative leaks a credential into the audit trail.
func ScanSecrets(effectiveConfigText string) error {
	for _, pattern := range secretShapePatterns {
		if loc := pattern.FindStringIndex(effectiveConfigText); loc != nil {
			return fmt.Errorf("secret-shaped value detected in effective config at offset %d", loc[0])
		}
	}
	return nil
}
