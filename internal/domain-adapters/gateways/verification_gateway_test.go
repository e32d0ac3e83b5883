package gateways

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ochairo/devbox/internal/domain/entities"
)

func TestNewCompositeVerificationGatewayWithDeps(t *testing.T) {
	checksums := NewChecksumVerifier()
	signatures := NewSignatureVerifier()

	gateway := NewCompositeVerificationGatewayWithDeps(checksums, signatures, nil)

	composite, ok := gateway.(*compositeVerificationGateway)
	if !ok {
		t.Fatal("Gateway is not of type *compositeVerificationGateway")
	}
	if composite.checksums != checksums || composite.signatures != signatures {
		t.Error("dependencies not set correctly")
	}
	if composite.logger == nil {
		t.Error("nil logger should default to a no-op logger")
	}
}

func TestCompositeGateway_VerifyChecksum(t *testing.T) {
	gateway := NewCompositeVerificationGateway(nil)

	content := []byte("protoc release archive")
	path := filepath.Join(t.TempDir(), "protoc.zip")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sum := sha256.Sum256(content)
	if err := gateway.VerifyChecksum(context.Background(), path, hex.EncodeToString(sum[:])); err != nil {
		t.Errorf("VerifyChecksum() error = %v", err)
	}

	if err := gateway.VerifyChecksum(context.Background(), path, "deadbeef"); err == nil {
		t.Error("VerifyChecksum() should fail on mismatch")
	}
}

func TestFetcher_Fetch_SignedTool(t *testing.T) {
	body := []byte("golangci-lint archive")
	keys, sig := signedRelease(t, body)
	server := newReleaseServer(t, map[string][]byte{
		"/lint.tar.gz":     body,
		"/lint.tar.gz.asc": sig,
		"/KEYS":            keys,
		"/swapped.tar.gz":  []byte("swapped archive"),
	})
	root := t.TempDir()
	fetcher := NewFetcher(FetcherConfig{Root: root, Verifier: NewCompositeVerificationGateway(nil)})

	transformed := false
	step := entities.DownloadStep{
		Name: "lint.tar.gz",
		URL:  server.URL + "/lint.tar.gz",
		Signature: entities.ToolSignature{
			URL:     server.URL + "/lint.tar.gz.asc",
			KeysURL: server.URL + "/KEYS",
		},
		Transform: func(context.Context, string) error {
			transformed = true
			return nil
		},
	}

	if err := fetcher.Fetch(context.Background(), step); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !transformed {
		t.Error("transform did not run after a valid signature")
	}
	assertNoArtifact(t, root, "lint.tar.gz")

	step.URL = server.URL + "/swapped.tar.gz"
	transformed = false
	err := fetcher.Fetch(context.Background(), step)
	if err == nil || !strings.Contains(err.Error(), "signature verification of lint.tar.gz failed") {
		t.Fatalf("Fetch() error = %v, want signature failure", err)
	}
	if transformed {
		t.Error("transform ran after a bad signature")
	}
	assertNoArtifact(t, root, "lint.tar.gz")
}
