package secrets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Keyring decrypts age payloads with the identities loaded from a key file.
type Keyring struct {
	identities []age.Identity
}

// LoadKeyring reads X25519 identities from an age key file.
func LoadKeyring(keyPath string) (*Keyring, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("age key path is required for password_age")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key %s: %w", keyPath, err)
	}
	identities, err := parseAgeIdentities(keyData)
	if err != nil {
		return nil, err
	}
	return &Keyring{identities: identities}, nil
}

// Decrypt resolves an age payload to plain text.
//
// The payload may be inline armored text or a path to an age file (binary
// or armored). Surrounding whitespace in the decrypted value is trimmed.
func (k *Keyring) Decrypt(payload string) (string, error) {
	if k == nil || len(k.identities) == 0 {
		return "", errors.New("no age identities loaded")
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", errors.New("age payload is empty")
	}
	var src io.Reader
	if strings.HasPrefix(payload, armor.Header) {
		src = armor.NewReader(strings.NewReader(payload))
	} else {
		data, err := os.ReadFile(payload)
		if err != nil {
			return "", fmt.Errorf("read age file %s: %w", payload, err)
		}
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
			src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
		} else {
			src = bytes.NewReader(data)
		}
	}
	reader, err := age.Decrypt(src, k.identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return strings.TrimSpace(string(plain)), nil
}

// Seal encrypts a secret to the given age recipients and returns armored text
// suitable for the password_age configuration field.
func Seal(secret string, recipients []string) (string, error) {
	if len(recipients) == 0 {
		return "", errors.New("at least one age recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, raw := range recipients {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("parse age recipient %q: %w", raw, err)
		}
		parsed = append(parsed, recipient)
	}
	var out bytes.Buffer
	armored := armor.NewWriter(&out)
	writer, err := age.Encrypt(armored, parsed...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(writer, secret); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("age armor: %w", err)
	}
	return out.String(), nil
}

func parseAgeIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
