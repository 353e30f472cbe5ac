// Package secrets protects the Lab Manager credentials held by labmgr.
//
// Two mechanisms are supported:
//
//   - Scrambling: cloud profiles keep their password in a reversible base64
//     form so it never sits in memory or logs as plain text. This is
//     obfuscation, not encryption.
//   - age encryption: configuration files may carry an armored age payload
//     (password_age) instead of a plaintext password. It is decrypted in
//     memory with the identities in the configured key file.
package secrets

import (
	"encoding/base64"
	"strings"
)

// Scramble returns the reversible obfuscated form of a secret.
func Scramble(secret string) string {
	if secret == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(secret))
}

// Descramble reverses Scramble. Malformed input yields an empty string.
func Descramble(scrambled string) string {
	scrambled = strings.TrimSpace(scrambled)
	if scrambled == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(scrambled)
	if err != nil {
		return ""
	}
	return string(raw)
}
