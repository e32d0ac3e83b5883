package gateways

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestVerifyChecksum tests SHA256 checksum verification
func TestVerifyChecksum(t *testing.T) {
	// Create test file
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")

	content := []byte("Hello, World! This is a test file for checksum verification.")
	if err := os.WriteFile(testFile, content, 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	verifier := NewChecksumVerifier()

	// Calculate checksum first
	actualSum, err := verifier.CalculateChecksum(testFile)
	if err != nil {
		t.Fatalf("CalculateChecksum() error = %v", err)
	}

	if actualSum == "" {
		t.Error("CalculateChecksum() returned empty checksum")
	}

	if len(actualSum) != 64 {
		t.Errorf("CalculateChecksum() returned checksum length = %d, want 64 (SHA256 hex)", len(actualSum))
	}

	// Test valid checksum verification
	t.Run("valid checksum", func(t *testing.T) {
		err := verifier.VerifyChecksum(context.Background(), testFile, actualSum)
		if err != nil {
			t.Errorf("VerifyChecksum() with valid checksum error = %v", err)
		}
	})

	// Test invalid checksum
	t.Run("invalid checksum", func(t *testing.T) {
		invalidSum := "0000000000000000000000000000000000000000000000000000000000000000"
		err := verifier.VerifyChecksum(context.Background(), testFile, invalidSum)
		if err == nil {
			t.Error("VerifyChecksum() with invalid checksum should return error")
		}
	})

	// Test non-existent file
	t.Run("non-existent file", func(t *testing.T) {
		err := verifier.VerifyChecksum(context.Background(), "/nonexistent/file.txt", actualSum)
		if err == nil {
			t.Error("VerifyChecksum() with non-existent file should return error")
		}
	})
}

// TestCalculateChecksum tests SHA256 checksum calculation
func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name         string
		content      []byte
		wantChecksum string // Known SHA256 hash
	}{
		{
			name:         "empty file",
			content:      []byte(""),
			wantChecksum: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty string
		},
		{
			name:         "simple content",
			content:      []byte("Hello, World!"),
			wantChecksum: "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			testFile := filepath.Join(tmpDir, "test.txt")

			if err := os.WriteFile(testFile, tt.content, 0600); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			verifier := NewChecksumVerifier()
			checksum, err := verifier.CalculateChecksum(testFile)
			if err != nil {
				t.Errorf("CalculateChecksum() error = %v", err)
				return
			}

			if checksum != tt.wantChecksum {
				t.Errorf("CalculateChecksum() = %v, want %v", checksum, tt.wantChecksum)
			}
		})
	}
}

func TestVerifyChecksum_PrefixAndCase(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "mkcert")
	if err := os.WriteFile(testFile, []byte("Hello, World!"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	verifier := NewChecksumVerifier()
	sums := []string{
		"sha256:dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f",
		"DFFD6021BB2BD5B0AF676290809EC3A53191DD81C7F70A4B28688A362182986F",
	}
	for _, sum := range sums {
		if err := verifier.VerifyChecksum(context.Background(), testFile, sum); err != nil {
			t.Errorf("VerifyChecksum(%q) error = %v", sum, err)
		}
	}

	if err := verifier.VerifyChecksum(context.Background(), testFile, "abc"); err == nil {
		t.Error("VerifyChecksum() should reject a malformed checksum")
	}
}

func TestLookupChecksum(t *testing.T) {
	sumsFile := `# release checksums
9a7b2bba1b7e1b1b3dfe5f8b2f0bfb0d1d54e0c0e3c3c1c3d0f8b4a2e9c3d7a1  golangci-lint-1.24.0-darwin-amd64.tar.gz
DFFD6021BB2BD5B0AF676290809EC3A53191DD81C7F70A4B28688A362182986F *golangci-lint-1.24.0-linux-amd64.tar.gz
`
	verifier := NewChecksumVerifier()

	tests := []struct {
		name    string
		content string
		file    string
		want    string
		wantErr bool
	}{
		{
			name:    "binary mode entry",
			content: sumsFile,
			file:    "/golangci-lint-1.24.0-linux-amd64.tar.gz",
			want:    "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f",
		},
		{
			name:    "missing entry",
			content: sumsFile,
			file:    "golangci-lint-1.24.0-windows-amd64.zip",
			wantErr: true,
		},
		{
			name:    "bare sum",
			content: "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f\n",
			file:    "anything",
			want:    "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.LookupChecksum(strings.NewReader(tt.content), tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LookupChecksum() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LookupChecksum() = %q, want %q", got, tt.want)
			}
		})
	}
}
