// Package cargo locates Rust dependency descriptors in unpacked source
// trees and generates missing lockfiles via the external cargo binary.
package cargo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openSUSE/obs-service-cargo-audit/internal/run"
)

const (
	LockfileName = "Cargo.lock"
	ManifestName = "Cargo.toml"

	// vendorDir holds bundled copies of dependencies, auditing those
	// duplicates every finding of the real lockfile.
	vendorDir = "vendor"
)

// FindLockfiles searches roots recursively for Cargo.lock files,
// skipping everything under a vendor directory.
func FindLockfiles(roots ...string) ([]string, error) {
	return find(LockfileName, roots)
}

// FindManifests searches roots recursively for Cargo.toml files,
// skipping everything under a vendor directory.
func FindManifests(roots ...string) ([]string, error) {
	return find(ManifestName, roots)
}

func find(name string, roots []string) ([]string, error) {
	var ret []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == vendorDir {
				return filepath.SkipDir
			}
			if d.Type().IsRegular() && d.Name() == name {
				ret = append(ret, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("searching %s in %s: %w", name, root, err)
		}
	}
	return ret, nil
}

// GenerateError describes a failed cargo generate-lockfile invocation.
// It carries the combined output and a listing of the manifest directory
// so a build log alone is enough to diagnose the failure.
type GenerateError struct {
	Manifest string
	Output   []byte
	Listing  []string
	Err      error
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("generating lockfile for %s: %v\noutput: %s\ndirectory: %s",
		e.Manifest, e.Err, e.Output, strings.Join(e.Listing, ", "))
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

// Generator invokes cargo generate-lockfile.
type Generator struct {
	Bin     string
	Timeout time.Duration
}

// Generate produces a lockfile for the given manifest. Where the
// lockfile lands is up to cargo, workspace members share a single lock
// in the workspace root.
func (g Generator) Generate(ctx context.Context, manifest string) error {
	dir := filepath.Dir(manifest)
	slog.InfoContext(ctx, "generating lockfile", "manifest", manifest)
	res := run.Do(ctx, run.Command{
		Path:    g.Bin,
		Args:    []string{"generate-lockfile", "--manifest-path", manifest},
		Dir:     dir,
		Timeout: g.Timeout,
	})
	if res.Err != nil {
		err := res.Err
		if res.CtxErr != nil {
			err = fmt.Errorf("%v: %w", res.Err, res.CtxErr)
		}
		return &GenerateError{
			Manifest: manifest,
			Output:   res.Output,
			Listing:  listDir(dir),
			Err:      err,
		}
	}
	return nil
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{fmt.Sprintf("listing failed: %v", err)}
	}
	ret := make([]string, 0, len(entries))
	for _, entry := range entries {
		ret = append(ret, entry.Name())
	}
	return ret
}
