package gateways

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// signedRelease returns a signer's armored public key and an armored detached signature of data
func signedRelease(t *testing.T, data []byte) (keys, sig []byte) {
	t.Helper()
	e, keys := newSigningKey(t)
	return keys, detachSign(t, e, data)
}

// newSigningKey returns a fresh signing entity and its armored public key
func newSigningKey(t *testing.T) (*openpgp.Entity, []byte) {
	t.Helper()
	e, err := openpgp.NewEntity("devbox release", "", "release@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}

	var keyBuf bytes.Buffer
	w, err := armor.Encode(&keyBuf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Serialize(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return e, keyBuf.Bytes()
}

func detachSign(t *testing.T, e *openpgp.Entity, data []byte) []byte {
	t.Helper()
	var sigBuf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sigBuf, e, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("ArmoredDetachSign() error = %v", err)
	}
	return sigBuf.Bytes()
}

func TestSignatureVerifier_RemoteKeysAndSignature(t *testing.T) {
	data := []byte("golangci-lint release")
	keys, sig := signedRelease(t, data)
	server := newReleaseServer(t, map[string][]byte{"/KEYS": keys, "/lint.tar.gz.asc": sig})

	artifact := filepath.Join(t.TempDir(), "lint.tar.gz")
	writeTestFile(t, artifact, data)

	verifier := NewSignatureVerifier()
	src := SignatureSource{
		Signature: server.URL + "/lint.tar.gz.asc",
		KeysURL:   server.URL + "/KEYS",
	}
	trusted, err := verifier.verify(context.Background(), artifact, src)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if trusted != 1 {
		t.Errorf("trusted keys = %d, want 1", trusted)
	}

	writeTestFile(t, artifact, []byte("tampered"))
	trusted, err = verifier.verify(context.Background(), artifact, src)
	if err == nil {
		t.Error("Verify() should fail for a modified artifact")
	}
	if trusted != 1 {
		t.Errorf("a second check should start from an empty keyring, trusted %d keys", trusted)
	}
}

func TestSignatureVerifier_KeysDoNotCarryOverBetweenTools(t *testing.T) {
	lintData := []byte("golangci-lint release")
	certData := []byte("mkcert release")
	lintKey, lintKeys := newSigningKey(t)
	_, certKeys := newSigningKey(t)
	server := newReleaseServer(t, map[string][]byte{
		"/lint/KEYS":       lintKeys,
		"/lint.tar.gz.asc": detachSign(t, lintKey, lintData),
		"/mkcert/KEYS":     certKeys,
		// signed by the lint key, not the one mkcert declares
		"/mkcert.tar.gz.asc": detachSign(t, lintKey, certData),
	})

	dir := t.TempDir()
	lint := filepath.Join(dir, "lint.tar.gz")
	writeTestFile(t, lint, lintData)
	cert := filepath.Join(dir, "mkcert.tar.gz")
	writeTestFile(t, cert, certData)

	verifier := NewSignatureVerifier()
	// a failed check still imports the lint key
	if err := verifier.Verify(context.Background(), cert, SignatureSource{
		Signature: server.URL + "/lint.tar.gz.asc",
		KeysURL:   server.URL + "/lint/KEYS",
	}); err == nil {
		t.Fatal("Verify() should fail for an artifact the signature does not cover")
	}
	if err := verifier.Verify(context.Background(), lint, SignatureSource{
		Signature: server.URL + "/lint.tar.gz.asc",
		KeysURL:   server.URL + "/lint/KEYS",
	}); err != nil {
		t.Fatalf("Verify(lint) error = %v", err)
	}

	err := verifier.Verify(context.Background(), cert, SignatureSource{
		Signature: server.URL + "/mkcert.tar.gz.asc",
		KeysURL:   server.URL + "/mkcert/KEYS",
	})
	if err == nil {
		t.Error("Verify(mkcert) should reject a signature made by another tool's key")
	}
}

func TestSignatureVerifier_LocalKeyAndSignature(t *testing.T) {
	data := []byte("mkcert binary")
	keys, sig := signedRelease(t, data)
	dir := t.TempDir()

	artifact := filepath.Join(dir, "mkcert")
	writeTestFile(t, artifact, data)
	writeTestFile(t, filepath.Join(dir, "mkcert.asc"), sig)
	writeTestFile(t, filepath.Join(dir, "release.pub"), keys)

	err := NewSignatureVerifier().Verify(context.Background(), artifact, SignatureSource{
		Signature: filepath.Join(dir, "mkcert.asc"),
		KeyFile:   filepath.Join(dir, "release.pub"),
	})
	if err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestSignatureVerifier_Misconfigured(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "protoc.zip")
	writeTestFile(t, artifact, []byte("zip"))
	verifier := NewSignatureVerifier()

	err := verifier.Verify(context.Background(), artifact, SignatureSource{Signature: artifact + ".asc"})
	if !errors.Is(err, ErrNoSigningKeys) {
		t.Errorf("Verify() without keys error = %v, want ErrNoSigningKeys", err)
	}

	if err := verifier.Verify(context.Background(), artifact, SignatureSource{KeyFile: "release.pub"}); err == nil {
		t.Error("Verify() without a signature should fail")
	}
}

func TestSignatureVerifier_KeysUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	artifact := filepath.Join(t.TempDir(), "protoc.zip")
	if err := os.WriteFile(artifact, []byte("zip"), 0600); err != nil {
		t.Fatal(err)
	}

	err := NewSignatureVerifier().Verify(context.Background(), artifact, SignatureSource{
		Signature: server.URL + "/protoc.zip.asc",
		KeysURL:   server.URL + "/KEYS",
	})
	if err == nil {
		t.Error("Verify() should fail when the KEYS file cannot be fetched")
	}
}
