package config

import (
	"fmt"
	"os"
	"strings"
)

// modeRule flags a set of permission bits on a credential file. Rules are
// checked in order and the first match wins.
type modeRule struct {
	bits  os.FileMode
	unset bool // match when none of bits is set
	fatal bool
	text  string
}

var credentialFileRules = []modeRule{
	{bits: 0o400, unset: true, fatal: true, text: "must be readable by owner"},
	{bits: 0o007, fatal: true, text: "holds credentials and must not be accessible by others"},
	{bits: 0o030, fatal: true, text: "must not be group-writable or executable"},
	{bits: 0o040, text: "is group-readable; consider chmod 0600"},
}

// CheckSecretFilePermissions inspects a file that may hold credentials: the
// config file with Lab Manager passwords or the age identity file.
// A non-empty warning is returned for modes that are tolerated but loose.
func CheckSecretFilePermissions(path string) (warning string, err error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s must be a regular file", path)
	}
	perm := info.Mode().Perm()
	for _, rule := range credentialFileRules {
		set := perm&rule.bits != 0
		if set == rule.unset {
			continue
		}
		msg := fmt.Sprintf("%s %s (mode %04o)", path, rule.text, perm)
		if rule.fatal {
			return "", fmt.Errorf("%s", msg)
		}
		return msg, nil
	}
	return "", nil
}
