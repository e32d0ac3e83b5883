package gateways

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// checksumVerifier implements SHA256 verification of fetched artifacts
type checksumVerifier struct{}

// NewChecksumVerifier creates a new checksum verifier
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewChecksumVerifier() *checksumVerifier {
	return &checksumVerifier{}
}

// VerifyChecksum verifies a file's SHA256 checksum.
// expectedSum may carry a "sha256:" prefix and any letter case.
func (v *checksumVerifier) VerifyChecksum(ctx context.Context, filePath, expectedSum string) error {
	expected := normalizeSum(expectedSum)
	if len(expected) != sha256.Size*2 {
		return fmt.Errorf("malformed sha256 checksum %q", expectedSum)
	}

	actualSum, err := v.CalculateChecksum(filePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if actualSum != expected {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actualSum)
	}

	return nil
}

// CalculateChecksum calculates the SHA256 checksum of a file
func (v *checksumVerifier) CalculateChecksum(filePath string) (string, error) {
	//nolint:gosec // G304: File path is user-provided for checksum calculation
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// LookupChecksum finds the sum for fileName in sha256sum-formatted content
// ("<hex>  <name>" or "<hex> *<name>" per line). A single bare hex line
// matches any name.
func (v *checksumVerifier) LookupChecksum(r io.Reader, fileName string) (string, error) {
	base := filepath.Base(fileName)
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)

		fields := strings.Fields(line)
		if len(fields) >= 2 && filepath.Base(strings.TrimPrefix(fields[1], "*")) == base {
			return normalizeSum(fields[0]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read checksum file: %w", err)
	}

	if len(lines) == 1 && len(strings.Fields(lines[0])) == 1 {
		return normalizeSum(lines[0]), nil
	}

	return "", fmt.Errorf("no checksum for %s", base)
}

func normalizeSum(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "sha256:"), "SHA256:")
	return strings.ToLower(s)
}
