package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain-adapters/gateways"
	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
)

type fetchOptions struct {
	name    string
	url     string
	sha256  string
	unzip   string
	untar   string
	strip   int
	install string
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	common := addConfigFlags(fs)
	var (
		root    = fs.String("root", "", "Directory the artifact is downloaded into and transformed under (default: /)")
		unzip   = fs.String("unzip", "", "Extract the zip archive into this directory")
		untar   = fs.String("untar", "", "Extract the tarball into this directory")
		strip   = fs.Int("strip", 0, "Leading path components to strip with --untar")
		install = fs.String("install", "", "Move the artifact into this directory and make it executable")
		sum     = fs.String("sha256", "", "Expected SHA256 of the artifact")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox fetch <name> <url> [options]

Download <url> to <root>/<name>, apply at most one transform, then remove
<root>/<name> whether or not the transform succeeded.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox fetch protoc.zip https://github.com/protocolbuffers/protobuf/releases/download/v25.1/protoc-25.1-linux-x86_64.zip --unzip /usr
  devbox fetch lint.tar.gz https://example.com/golangci-lint.tar.gz --untar /opt/lint --strip 1
  devbox fetch mkcert https://example.com/mkcert-linux-amd64 --install /usr/local/bin
`)
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		fs.Usage()
		return errors.New("fetch needs exactly <name> and <url>")
	}

	cfg, err := common.load(map[string]interface{}{"root": *root})
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best effort flush
	defer logger.Sync()

	return executeFetch(ctx, cfg, fetchOptions{
		name:    positional[0],
		url:     positional[1],
		sha256:  *sum,
		unzip:   *unzip,
		untar:   *untar,
		strip:   *strip,
		install: *install,
	}, logger)
}

func executeFetch(ctx context.Context, cfg config.Config, opts fetchOptions, logger interfaces.Logger) error {
	ops, err := fetchOps(opts)
	if err != nil {
		return err
	}

	fetcher := gateways.NewFetcher(gateways.FetcherConfig{
		Root:     cfg.Root,
		Timeout:  cfg.HTTP.Timeout,
		Verifier: gateways.NewCompositeVerificationGateway(logger),
		Logger:   logger,
	})
	transformer := gateways.NewTransformer(cfg.Root, gateways.NewScriptExecutor(), nil, logger)

	return fetcher.Fetch(ctx, entities.DownloadStep{
		Name:      opts.name,
		URL:       opts.url,
		SHA256:    opts.sha256,
		Transform: transformer.Build(ops, nil),
	})
}

// fetchOps turns the transform flags into ops; at most one may be set
func fetchOps(opts fetchOptions) ([]entities.TransformOp, error) {
	set := 0
	for _, v := range []string{opts.unzip, opts.untar, opts.install} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("--unzip, --untar and --install are mutually exclusive")
	}
	if opts.strip < 0 {
		return nil, errors.New("--strip must not be negative")
	}
	if opts.strip > 0 && opts.untar == "" {
		return nil, errors.New("--strip needs --untar")
	}

	switch {
	case opts.unzip != "":
		return []entities.TransformOp{{Kind: entities.OpUnzip, Dest: opts.unzip}}, nil
	case opts.untar != "":
		return []entities.TransformOp{{Kind: entities.OpUntar, Dest: opts.untar, StripComponents: opts.strip}}, nil
	case opts.install != "":
		dir := path.Clean(opts.install)
		return []entities.TransformOp{
			{Kind: entities.OpMove, To: strings.TrimSuffix(dir, "/") + "/"},
			{Kind: entities.OpChmod, Mode: "0755", Paths: []string{path.Join(dir, opts.name)}},
		}, nil
	default:
		return nil, nil
	}
}
