package gateways

import (
	"context"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// VerificationGateway checks fetched artifacts before they are transformed.
// Implementations stay in pure Go (no gpg or sha256sum binaries).
type VerificationGateway interface {
	VerifyChecksum(ctx context.Context, filePath, expectedSum string) error
	VerifySignature(ctx context.Context, filePath string, sig entities.ToolSignature) error
}
