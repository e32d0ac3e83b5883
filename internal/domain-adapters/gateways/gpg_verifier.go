package gateways

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/external-adapters/gpg"
)

// ErrNoSigningKeys is returned when a signature check has nothing to trust
var ErrNoSigningKeys = errors.New("no signing keys configured")

// SignatureSource says where a detached signature and its signing keys come from.
// Signature may be a URL or a local path.
type SignatureSource struct {
	Signature string
	KeysURL   string
	KeyFile   string
	KeyIDs    []string
}

// SignatureFromTool converts a recipe tool signature
func SignatureFromTool(sig entities.ToolSignature) SignatureSource {
	return SignatureSource{Signature: sig.URL, KeysURL: sig.KeysURL, KeyIDs: sig.KeyIDs}
}

func (s SignatureSource) hasKeys() bool {
	return s.KeyFile != "" || s.KeysURL != "" || len(s.KeyIDs) > 0
}

// SignatureVerifier checks artifacts against detached GPG signatures.
// Every Verify call starts from an empty keyring, so an artifact is only
// trusted when signed by one of the keys its own source names.
type SignatureVerifier struct {
	opts []gpg.Option
}

// NewSignatureVerifier creates a verifier; opts apply to the keyring built for each call
func NewSignatureVerifier(opts ...gpg.Option) *SignatureVerifier {
	return &SignatureVerifier{opts: opts}
}

// Verify imports every key src names into a fresh keyring, then checks filePath against src.Signature
func (s *SignatureVerifier) Verify(ctx context.Context, filePath string, src SignatureSource) error {
	_, err := s.verify(ctx, filePath, src)
	return err
}

// verify returns the number of keys the check trusted
func (s *SignatureVerifier) verify(ctx context.Context, filePath string, src SignatureSource) (int, error) {
	if src.Signature == "" {
		return 0, errors.New("no signature configured")
	}
	if !src.hasKeys() {
		return 0, ErrNoSigningKeys
	}

	verifier := gpg.NewVerifier(s.opts...)

	if src.KeyFile != "" {
		if err := verifier.ImportKeyFromFile(src.KeyFile); err != nil {
			return 0, fmt.Errorf("failed to import GPG key from file: %w", err)
		}
	}
	if src.KeysURL != "" {
		if err := verifier.ImportKeysFromURL(ctx, src.KeysURL); err != nil {
			return 0, fmt.Errorf("failed to import GPG keys from %s: %w", src.KeysURL, err)
		}
	}
	if len(src.KeyIDs) > 0 {
		if err := verifier.ImportKeys(ctx, src.KeyIDs); err != nil {
			return 0, fmt.Errorf("failed to import GPG keys: %w", err)
		}
	}

	var err error
	if isRemote(src.Signature) {
		err = verifier.VerifySignature(ctx, filePath, src.Signature)
	} else {
		err = verifier.VerifySignatureFromFile(filePath, src.Signature)
	}
	if err != nil {
		return verifier.GetKeyringSize(), fmt.Errorf("GPG signature verification failed: %w", err)
	}
	return verifier.GetKeyringSize(), nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://")
}
