// Package main provides the devbox CLI for provisioning development boxes from recipes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Ctrl-C cancels the running step; its artifact is still removed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "build":
		err = runBuild(ctx, args)
	case "render":
		err = runRender(ctx, args)
	case "image":
		err = runImage(ctx, args)
	case "fetch":
		err = runFetch(ctx, args)
	case "list":
		err = runList(ctx, args)
	case "verify":
		err = runVerify(ctx, args)
	case "monitor":
		err = runMonitor(ctx, args)
	case "version":
		fmt.Println("devbox", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`devbox - Provision development boxes from YAML recipes

Usage:
  devbox <command> [options]

Commands:
  build    Provision the current machine or container from a recipe
  render   Render a recipe as a Dockerfile
  image    Build a container image from a recipe with the Docker Engine
  fetch    Download, transform and clean up a single artifact
  list     List recipes, or the tools, variants and steps of one recipe
  verify   Verify a file's checksum and GPG signature
  monitor  Check pinned tool versions against upstream releases
  version  Print the devbox version

Configuration is read from devbox.yml (or --config), then DEVBOX_ environment
variables (DEVBOX_LOG__LEVEL=debug sets log.level), then flags.

Use "devbox <command> --help" for more information about a command.`)
}
