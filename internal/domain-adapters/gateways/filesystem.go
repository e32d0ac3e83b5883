package gateways

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// EnvFile is where env steps are persisted, relative to the build root
const EnvFile = "/etc/devbox/env"

// FileSystem applies copy, mkdir and env steps under a build root
type FileSystem struct {
	root    string
	context fs.FS
}

// NewFileSystem creates a FileSystem rooted at root. Copy sources are read from buildContext.
func NewFileSystem(root string, buildContext fs.FS) *FileSystem {
	if root == "" {
		root = "/"
	}
	return &FileSystem{root: root, context: buildContext}
}

// HostPath maps a box path onto the host filesystem
func (f *FileSystem) HostPath(boxPath string) string {
	return filepath.Join(f.root, filepath.FromSlash(boxPath))
}

// Copy copies a file from the build context into the box
func (f *FileSystem) Copy(spec entities.CopySpec) error {
	if f.context == nil {
		return fmt.Errorf("copy %s: no build context configured", spec.Src)
	}

	src, err := ContextPath(spec.Src)
	if err != nil {
		return err
	}

	info, err := fs.Stat(f.context, src)
	if err != nil {
		return fmt.Errorf("copy source %s: %w", spec.Src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("copy source %s is a directory", spec.Src)
	}

	mode, err := ParseMode(spec.Mode, info.Mode().Perm())
	if err != nil {
		return err
	}

	dest := f.HostPath(spec.Dest)
	if strings.HasSuffix(spec.Dest, "/") {
		dest = filepath.Join(dest, path.Base(src))
	}

	in, err := f.context.Open(src)
	if err != nil {
		return fmt.Errorf("copy source %s: %w", spec.Src, err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	return writeFile(dest, in, mode)
}

// Mkdir creates a directory, like mkdir -p, then applies owner and mode
func (f *FileSystem) Mkdir(spec entities.MkdirSpec) error {
	mode, err := ParseMode(spec.Mode, 0755)
	if err != nil {
		return err
	}

	dir := f.HostPath(spec.Path)
	if err := os.MkdirAll(dir, mode); err != nil {
		return fmt.Errorf("failed to create %s: %w", spec.Path, err)
	}
	if spec.Mode != "" {
		if err := os.Chmod(dir, mode); err != nil {
			return err
		}
	}

	if spec.Owner == "" {
		return nil
	}
	uid, gid, err := ParseOwner(spec.Owner)
	if err != nil {
		return err
	}
	if err := os.Chown(dir, uid, gid); err != nil {
		return fmt.Errorf("failed to chown %s to %s: %w", spec.Path, spec.Owner, err)
	}
	return nil
}

// WriteEnv persists the accumulated environment as a sourceable shell file
func (f *FileSystem) WriteEnv(env []entities.EnvVar) error {
	var b strings.Builder
	for _, e := range env {
		fmt.Fprintf(&b, "export %s=%s\n", e.Key, shellescape.Quote(e.Value))
	}

	dest := f.HostPath(EnvFile)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create env directory: %w", err)
	}
	//nolint:gosec // G306: the env file is meant to be world-readable
	if err := os.WriteFile(dest, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return nil
}

// ContextPath cleans a copy source and rejects paths that leave the build context
func ContextPath(src string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(filepath.ToSlash(src), "./"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) || !fs.ValidPath(clean) {
		return "", fmt.Errorf("copy source %q is outside the build context", src)
	}
	return clean, nil
}

// ParseOwner resolves "uid:gid" or "user:group". A missing group reuses the user's primary group.
func ParseOwner(owner string) (int, int, error) {
	userPart, groupPart, hasGroup := strings.Cut(owner, ":")

	uid, primaryGID, err := lookupUser(userPart)
	if err != nil {
		return 0, 0, err
	}
	if !hasGroup || groupPart == "" {
		if primaryGID < 0 {
			return 0, 0, fmt.Errorf("owner %q: no group given for numeric user", owner)
		}
		return uid, primaryGID, nil
	}

	gid, err := lookupGroup(groupPart)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}

func lookupUser(name string) (int, int, error) {
	if id, err := strconv.Atoi(name); err == nil && id >= 0 {
		return id, -1, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, fmt.Errorf("unknown user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, errors.New("non-numeric uid for " + name)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		gid = -1
	}
	return uid, gid, nil
}

func lookupGroup(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil && id >= 0 {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}
