package gateways

import (
	"context"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/gateways"
)

// compositeVerificationGateway verifies artifacts with the checksum and signature verifiers
type compositeVerificationGateway struct {
	checksums  *checksumVerifier
	signatures *SignatureVerifier
	logger     interfaces.Logger
}

// NewCompositeVerificationGateway creates a verification gateway with a fresh keyring
func NewCompositeVerificationGateway(logger interfaces.Logger) gateways.VerificationGateway {
	return NewCompositeVerificationGatewayWithDeps(NewChecksumVerifier(), NewSignatureVerifier(), logger)
}

// NewCompositeVerificationGatewayWithDeps creates a composite gateway with custom dependencies
func NewCompositeVerificationGatewayWithDeps(
	checksums *checksumVerifier,
	signatures *SignatureVerifier,
	logger interfaces.Logger,
) gateways.VerificationGateway {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &compositeVerificationGateway{
		checksums:  checksums,
		signatures: signatures,
		logger:     logger,
	}
}

func (c *compositeVerificationGateway) VerifyChecksum(ctx context.Context, filePath, expectedSum string) error {
	c.logger.Debug("verifying checksum", interfaces.F("file", filePath))
	return c.checksums.VerifyChecksum(ctx, filePath, expectedSum)
}

func (c *compositeVerificationGateway) VerifySignature(ctx context.Context, filePath string, sig entities.ToolSignature) error {
	c.logger.Debug("verifying GPG signature", interfaces.F("file", filePath), interfaces.F("signature_url", sig.URL))
	return c.signatures.Verify(ctx, filePath, SignatureFromTool(sig))
}
