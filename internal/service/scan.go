package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openSUSE/obs-service-cargo-audit/internal/audit"
	"github.com/openSUSE/obs-service-cargo-audit/internal/cargo"
	"github.com/openSUSE/obs-service-cargo-audit/internal/model"
	"github.com/openSUSE/obs-service-cargo-audit/internal/unpack"
)

// Options are the per-invocation inputs, as opposed to model.Config
// which comes from the configuration file.
type Options struct {
	// WorkDir is where archives are searched, defaults to the current directory.
	WorkDir string
	// SrcDir is an already unpacked source tree. When set, no archive
	// extraction happens.
	SrcDir string
	// Lockfile is an explicit lockfile path relative to the source directory.
	Lockfile string
	// AdvisoryID narrows the run to one advisory: the outcome is
	// vulnerable only when that advisory affects a lockfile, any other
	// finding is disregarded.
	AdvisoryID string
}

// Finding pairs a lockfile with a non-clean audit report.
type Finding struct {
	Lockfile string
	Report   *audit.Report
}

// Outcome is the aggregated result of one run.
type Outcome struct {
	Lockfiles []string
	Findings  []Finding
}

func (o Outcome) Vulnerable() bool {
	return len(o.Findings) > 0
}

// Scan runs the whole pipeline: materialize sources, discover or
// generate lockfiles, audit each of them. The temporary tree is removed
// before Scan returns, no matter how it returns.
func Scan(ctx context.Context, cfg model.Config, opts Options) (Outcome, error) {
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}

	tmp, err := os.MkdirTemp("", "cargo_audit-")
	if err != nil {
		return Outcome{}, fmt.Errorf("creating temporary directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	srcDirs, err := materialize(ctx, opts, tmp)
	if err != nil {
		return Outcome{}, err
	}

	lockfiles, err := resolveLockfiles(ctx, cfg, opts, srcDirs)
	if err != nil {
		return Outcome{}, err
	}

	auditor := audit.Auditor{
		Bin:     cfg.CargoAuditBin,
		DB:      cfg.AdvisoryDB,
		Ignore:  cfg.ExcludedAdvisories,
		Timeout: cfg.Timeout.Duration,
	}

	outcome := Outcome{Lockfiles: lockfiles}
	for _, lockfile := range lockfiles {
		report, err := auditor.Audit(ctx, lockfile)
		if err != nil {
			return Outcome{}, err
		}
		if report != nil {
			outcome.Findings = append(outcome.Findings, Finding{
				Lockfile: lockfile,
				Report:   report,
			})
		}
	}

	if opts.AdvisoryID != "" {
		outcome.Findings = filterAdvisory(ctx, outcome.Findings, opts.AdvisoryID)
	}
	return outcome, nil
}

// filterAdvisory keeps only findings mentioning the advisory. The
// targeted mode answers a single question: is this source affected by
// the given advisory, everything else in the reports is noise there.
func filterAdvisory(ctx context.Context, findings []Finding, id string) []Finding {
	var ret []Finding
	for _, finding := range findings {
		for _, vuln := range finding.Report.Vulnerabilities.List {
			if vuln.Advisory.ID == id {
				ret = append(ret, finding)
				break
			}
		}
	}
	if len(ret) == 0 && len(findings) > 0 {
		slog.InfoContext(ctx, "findings disregarded, none matches the requested advisory", "advisory", id)
	}
	return ret
}

// materialize produces the set of unpacked source directories under tmp.
func materialize(ctx context.Context, opts Options, tmp string) ([]string, error) {
	if opts.SrcDir != "" {
		target, err := unpack.CopyDir(opts.SrcDir, tmp)
		if err != nil {
			return nil, fmt.Errorf("copying source directory: %w", err)
		}
		return []string{target}, nil
	}

	archives, err := unpack.Candidates(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	for _, archive := range archives {
		if err := unpack.Extract(ctx, archive, tmp); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", archive, err)
		}
	}

	srcDirs, err := unpack.TopDirs(tmp)
	if err != nil {
		return nil, err
	}
	if len(srcDirs) == 0 {
		return nil, model.ErrNoSources
	}
	slog.DebugContext(ctx, "sources materialized", "dirs", srcDirs)
	return srcDirs, nil
}

// resolveLockfiles returns a non-empty list of lockfile paths to audit.
func resolveLockfiles(ctx context.Context, cfg model.Config, opts Options, srcDirs []string) ([]string, error) {
	gen := cargo.Generator{
		Bin:     cfg.CargoBin,
		Timeout: cfg.Timeout.Duration,
	}

	if opts.Lockfile != "" && len(srcDirs) == 1 {
		return explicitLockfile(ctx, gen, srcDirs[0], opts.Lockfile)
	}

	found, err := cargo.FindLockfiles(srcDirs...)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return found, nil
	}

	manifests, err := cargo.FindManifests(srcDirs...)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, model.ErrNoLockfile
	}

	for _, manifest := range manifests {
		if err := gen.Generate(ctx, manifest); err != nil {
			return nil, err
		}
	}

	// re-scan the whole tree: in a workspace the lockfile lands in the
	// workspace root, not next to the manifest it was generated for
	found, err = cargo.FindLockfiles(srcDirs...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, model.ErrLockfileMissing
	}
	return found, nil
}

func explicitLockfile(ctx context.Context, gen cargo.Generator, srcDir, rel string) ([]string, error) {
	path := filepath.Join(srcDir, rel)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return []string{path}, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	manifest := filepath.Join(filepath.Dir(path), cargo.ManifestName)
	if err := gen.Generate(ctx, manifest); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, model.ErrLockfileMissing
	}
	return []string{path}, nil
}
