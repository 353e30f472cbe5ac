package secrets

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestScrambleRoundTrip(t *testing.T) {
	t.Parallel()
	scrambled := Scramble("s3cret!")
	if scrambled == "s3cret!" {
		t.Fatalf("scrambled value equals plain text")
	}
	if got := Descramble(scrambled); got != "s3cret!" {
		t.Fatalf("Descramble() = %q, want %q", got, "s3cret!")
	}
	if Scramble("") != "" || Descramble("") != "" {
		t.Fatalf("empty secret should stay empty")
	}
	if got := Descramble("%%% not base64"); got != "" {
		t.Fatalf("Descramble(malformed) = %q, want empty", got)
	}
}

func writeIdentity(t *testing.T) (*age.X25519Identity, string) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate age identity: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "age.key")
	content := "# created: test\n# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	if err := os.WriteFile(keyPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write age key: %v", err)
	}
	return identity, keyPath
}

func TestSealAndDecryptInline(t *testing.T) {
	t.Parallel()
	identity, keyPath := writeIdentity(t)

	armored, err := Seal("lab-password", []string{identity.Recipient().String()})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !strings.HasPrefix(armored, "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Fatalf("Seal() did not return armored output: %q", armored)
	}
	keyring, err := LoadKeyring(keyPath)
	if err != nil {
		t.Fatalf("LoadKeyring() error = %v", err)
	}
	plain, err := keyring.Decrypt("\n" + armored + "\n")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "lab-password" {
		t.Fatalf("Decrypt() = %q, want %q", plain, "lab-password")
	}
}

func TestDecryptBinaryFile(t *testing.T) {
	t.Parallel()
	identity, keyPath := writeIdentity(t)
	var encrypted bytes.Buffer
	writer, err := age.Encrypt(&encrypted, identity.Recipient())
	if err != nil {
		t.Fatalf("age encrypt: %v", err)
	}
	if _, err := writer.Write([]byte("from-file\n")); err != nil {
		t.Fatalf("write age payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close age writer: %v", err)
	}
	path := filepath.Join(t.TempDir(), "password.age")
	if err := os.WriteFile(path, encrypted.Bytes(), 0o600); err != nil {
		t.Fatalf("write age file: %v", err)
	}

	keyring, err := LoadKeyring(keyPath)
	if err != nil {
		t.Fatalf("LoadKeyring() error = %v", err)
	}
	plain, err := keyring.Decrypt(path)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "from-file" {
		t.Fatalf("Decrypt() = %q, want %q", plain, "from-file")
	}
}

func TestDecryptWrongIdentity(t *testing.T) {
	t.Parallel()
	other, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate age identity: %v", err)
	}
	armored, err := Seal("x", []string{other.Recipient().String()})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	_, keyPath := writeIdentity(t)
	keyring, err := LoadKeyring(keyPath)
	if err != nil {
		t.Fatalf("LoadKeyring() error = %v", err)
	}
	if _, err := keyring.Decrypt(armored); err == nil {
		t.Fatalf("expected decrypt error for foreign recipient")
	}
}

func TestLoadKeyringErrors(t *testing.T) {
	t.Parallel()
	if _, err := LoadKeyring(""); err == nil {
		t.Fatalf("expected error for empty key path")
	}
	empty := filepath.Join(t.TempDir(), "empty.key")
	if err := os.WriteFile(empty, []byte("# nothing here\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := LoadKeyring(empty); err == nil || !strings.Contains(err.Error(), "no age identities") {
		t.Fatalf("expected no identities error, got %v", err)
	}
}

func TestSealRejectsBadRecipient(t *testing.T) {
	t.Parallel()
	if _, err := Seal("x", nil); err == nil {
		t.Fatalf("expected error without recipients")
	}
	if _, err := Seal("x", []string{"not-a-recipient"}); err == nil {
		t.Fatalf("expected parse error for bad recipient")
	}
}
