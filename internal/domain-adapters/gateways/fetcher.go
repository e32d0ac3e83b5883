package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/gateways"
)

// DownloadObserver receives the size and duration of every completed download
type DownloadObserver interface {
	ObserveDownload(name string, bytes int64, duration time.Duration)
}

// FetcherConfig contains configuration for a Fetcher
type FetcherConfig struct {
	Root      string        // Artifacts land at <Root>/<name>; defaults to "/"
	Timeout   time.Duration // Per-download HTTP timeout; 0 uses the default
	UserAgent string
	Verifier  gateways.VerificationGateway
	Observer  DownloadObserver
	Logger    interfaces.Logger
}

// Fetcher runs fetch-transform-cleanup download steps
type Fetcher struct {
	httpClient *http.Client
	root       string
	userAgent  string
	verifier   gateways.VerificationGateway
	observer   DownloadObserver
	logger     interfaces.Logger
}

// NewFetcher creates a new fetcher
func NewFetcher(config FetcherConfig) *Fetcher {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	root := config.Root
	if root == "" {
		root = "/"
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "devbox/1.0"
	}
	logger := config.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		root:       root,
		userAgent:  userAgent,
		verifier:   config.Verifier,
		observer:   config.Observer,
		logger:     logger,
	}
}

// ArtifactPath returns the deterministic local path for an artifact name
func (f *Fetcher) ArtifactPath(name string) string {
	return filepath.Join(f.root, name)
}

// Fetch downloads step.URL to <root>/<step.Name>, runs the transform on it and
// removes the artifact on every exit path. A cleanup failure is reported
// together with any earlier error.
func (f *Fetcher) Fetch(ctx context.Context, step entities.DownloadStep) (err error) {
	if err := entities.ValidateArtifactName(step.Name); err != nil {
		return err
	}
	if err := entities.ValidateDownloadURL(step.URL); err != nil {
		return err
	}

	path := f.ArtifactPath(step.Name)
	log := interfaces.With(f.logger, interfaces.F("artifact", step.Name))

	defer func() {
		if rmErr := removeArtifact(path); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove artifact %s: %w", path, rmErr))
			return
		}
		log.Debug("artifact removed", interfaces.F("path", path))
	}()

	start := time.Now()
	written, err := f.download(ctx, step.URL, path)
	if err != nil {
		return fmt.Errorf("download %s failed: %w", step.URL, err)
	}
	elapsed := time.Since(start)
	if f.observer != nil {
		f.observer.ObserveDownload(step.Name, written, elapsed)
	}
	log.Info("downloaded", interfaces.F("url", step.URL), interfaces.F("bytes", written), interfaces.F("duration", elapsed))

	if err := f.verify(ctx, path, step); err != nil {
		return err
	}

	if step.Transform != nil {
		if err := step.Transform(ctx, path); err != nil {
			return fmt.Errorf("transform of %s failed: %w", step.Name, err)
		}
	}

	return nil
}

// download writes url to dest, truncating any existing file
func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	// Create the artifact before the request so a transport failure still
	// goes through the same cleanup path as a partial body.
	//nolint:gosec // G304: dest is <root>/<validated name>
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = out.Close()
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return written, fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close file: %w", err)
	}

	return written, nil
}

func (f *Fetcher) verify(ctx context.Context, path string, step entities.DownloadStep) error {
	if step.SHA256 == "" && !step.Signature.Enabled() {
		return nil
	}
	if f.verifier == nil {
		return fmt.Errorf("verification requested for %s but no verifier configured", step.Name)
	}

	if step.SHA256 != "" {
		if err := f.verifier.VerifyChecksum(ctx, path, step.SHA256); err != nil {
			return fmt.Errorf("checksum verification of %s failed: %w", step.Name, err)
		}
	}

	if step.Signature.Enabled() {
		if err := f.verifier.VerifySignature(ctx, path, step.Signature); err != nil {
			return fmt.Errorf("signature verification of %s failed: %w", step.Name, err)
		}
	}

	return nil
}

// removeArtifact deletes path; an artifact the transform already moved away is fine
func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
