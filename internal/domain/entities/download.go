package entities

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// TransformFunc acts on a freshly fetched artifact before it is discarded
type TransformFunc func(ctx context.Context, path string) error

// DownloadStep is a single fetch-transform-cleanup invocation
type DownloadStep struct {
	Name      string
	URL       string
	SHA256    string
	Signature ToolSignature
	Transform TransformFunc
}

// ValidateArtifactName checks that name is usable as a single path element
func ValidateArtifactName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	}
	return nil
}

// ValidateDownloadURL checks that raw is an absolute http(s) URL
func ValidateDownloadURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must use http or https", ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	return nil
}
