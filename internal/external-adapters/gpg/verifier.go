// Package gpg provides GPG signature verification capabilities.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

const (
	maxKeysSize      = 10 * 1024 * 1024 // Some projects publish large KEYS files
	maxSignatureSize = 10 * 1024        // Detached signatures are well under 1KB
	armoredSigPrefix = "-----BEGIN PGP SIGNATURE-----"
)

// DefaultKeyservers are tried in order when importing keys by ID
var DefaultKeyservers = []string{
	"https://keys.openpgp.org",
	"https://keyserver.ubuntu.com",
}

// Verifier implements GPG signature verification using ProtonMail's go-crypto.
// This is in external-adapters to isolate the external dependency.
type Verifier struct {
	keyring    openpgp.EntityList
	seen       map[string]bool
	httpClient *http.Client
	keyservers []string
}

// Option configures a Verifier
type Option func(*Verifier)

// WithHTTPClient replaces the HTTP client used for keys and signatures
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithKeyservers replaces the keyservers used by ImportKeys
func WithKeyservers(servers ...string) Option {
	return func(v *Verifier) { v.keyservers = servers }
}

// NewVerifier creates a new GPG verifier
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		seen:       make(map[string]bool),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		keyservers: DefaultKeyservers,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ImportKeys imports GPG keys by fingerprint or long key ID from the keyservers
func (v *Verifier) ImportKeys(ctx context.Context, keyIDs []string) error {
	if len(keyIDs) == 0 {
		return fmt.Errorf("no key IDs provided")
	}

	for _, keyID := range keyIDs {
		keyID = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(keyID), "0x"))
		if keyID == "" {
			continue
		}

		var lastErr error
		imported := false

		for _, keyserver := range v.keyservers {
			for _, url := range []string{
				fmt.Sprintf("%s/vks/v1/by-fingerprint/%s", keyserver, keyID),
				fmt.Sprintf("%s/pks/lookup?op=get&search=0x%s", keyserver, keyID),
			} {
				data, err := v.get(ctx, url, maxKeysSize)
				if err != nil {
					lastErr = err
					continue
				}

				entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
				if err != nil {
					lastErr = err
					continue
				}

				// Keyservers may answer with unrelated keys; only keep the requested one
				matching := filterByKeyID(entities, keyID)
				if len(matching) == 0 {
					lastErr = fmt.Errorf("no valid keys found matching fingerprint %s", keyID)
					continue
				}

				v.add(matching)
				imported = true
				break
			}

			if imported {
				break
			}
		}

		if !imported {
			return fmt.Errorf("failed to import key %s from all keyservers: %w", keyID, lastErr)
		}
	}

	return nil
}

// ImportKeysFromURL imports all GPG keys from a KEYS file URL
func (v *Verifier) ImportKeysFromURL(ctx context.Context, keysURL string) error {
	data, err := v.get(ctx, keysURL, maxKeysSize)
	if err != nil {
		return fmt.Errorf("failed to download KEYS file: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse KEYS file: %w", err)
	}
	if len(entities) == 0 {
		return fmt.Errorf("no keys found in KEYS file")
	}

	v.add(entities)
	return nil
}

// ImportKeyFromFile imports a GPG key from an armored or binary file
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is user-provided for GPG key import
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(entities) == 0 {
		return fmt.Errorf("no keys found in file")
	}

	v.add(entities)
	return nil
}

// VerifySignature verifies filePath against a detached signature at sigURL
func (v *Verifier) VerifySignature(ctx context.Context, filePath, sigURL string) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("no GPG keys imported, call ImportKeys first")
	}

	sigData, err := v.get(ctx, sigURL, maxSignatureSize)
	if err != nil {
		return fmt.Errorf("failed to download signature: %w", err)
	}

	return v.verifyFile(filePath, sigData)
}

// VerifySignatureFromFile verifies filePath against a detached signature file
func (v *Verifier) VerifySignatureFromFile(filePath, sigPath string) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("no GPG keys imported, call ImportKeys first")
	}

	//nolint:gosec // G304: sigPath is user-provided for GPG verification
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to open signature file: %w", err)
	}

	return v.verifyFile(filePath, sigData)
}

func (v *Verifier) verifyFile(filePath string, sigData []byte) error {
	if len(sigData) < 10 {
		return fmt.Errorf("signature file too small to be valid GPG signature")
	}

	//nolint:gosec // G304: filePath is the artifact under verification
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	if bytes.HasPrefix(bytes.TrimSpace(sigData), []byte(armoredSigPrefix)) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, f, bytes.NewReader(sigData), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, f, bytes.NewReader(sigData), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}

// GetKeyringSize returns the number of keys in the keyring
func (v *Verifier) GetKeyringSize() int {
	return len(v.keyring)
}

// ClearKeyring clears all imported keys
func (v *Verifier) ClearKeyring() {
	v.keyring = nil
	v.seen = make(map[string]bool)
}

// add appends entities, skipping fingerprints already in the keyring
func (v *Verifier) add(entities openpgp.EntityList) {
	for _, e := range entities {
		fp := fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
		if v.seen[fp] {
			continue
		}
		v.seen[fp] = true
		v.keyring = append(v.keyring, e)
	}
}

func (v *Verifier) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// filterByKeyID keeps entities whose fingerprint is keyID or ends with it (long key ID)
func filterByKeyID(entities openpgp.EntityList, keyID string) openpgp.EntityList {
	var out openpgp.EntityList
	for _, e := range entities {
		fp := fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
		if fp == keyID || (len(keyID) >= 16 && strings.HasSuffix(fp, keyID)) {
			out = append(out, e)
		}
	}
	return out
}
