// Package audit wraps the external cargo-audit binary and interprets
// its JSON report.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openSUSE/obs-service-cargo-audit/internal/run"
)

// Report is the subset of the cargo-audit JSON document this service
// acts upon.
type Report struct {
	Vulnerabilities Vulnerabilities `json:"vulnerabilities"`
}

type Vulnerabilities struct {
	Found bool            `json:"found"`
	Count int             `json:"count"`
	List  []Vulnerability `json:"list"`
}

type Vulnerability struct {
	Advisory Advisory `json:"advisory"`
	Package  Package  `json:"package"`
}

type Advisory struct {
	ID         string   `json:"id"`
	Package    string   `json:"package"`
	Title      string   `json:"title"`
	Categories []string `json:"categories"`
	CVSS       string   `json:"cvss"`
}

type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Auditor invokes cargo-audit against a single lockfile.
type Auditor struct {
	Bin     string
	DB      string
	Ignore  []string
	Timeout time.Duration
}

// Audit scans one lockfile. A nil report means no vulnerabilities
// outside the ignore list. A lockfile counts as clean whenever the
// report says count == 0, even if the binary exited non-zero: older
// cargo-audit releases signal denied warnings through the exit status
// alone, without any vulnerability in the report.
func (a Auditor) Audit(ctx context.Context, lockfile string) (*Report, error) {
	args := []string{
		"audit",
		"--json",
		"--no-fetch",
		"--color", "never",
		"-D", "warnings",
		"--db", a.DB,
		"--file", lockfile,
	}
	for _, id := range a.Ignore {
		args = append(args, "--ignore", id)
	}

	slog.InfoContext(ctx, "auditing lockfile", "lockfile", lockfile)
	res := run.Do(ctx, run.Command{
		Path:    a.Bin,
		Args:    args,
		Timeout: a.Timeout,
	})
	if !res.Exited() {
		err := res.Err
		if res.CtxErr != nil {
			err = fmt.Errorf("%v: %w", res.Err, res.CtxErr)
		}
		return nil, fmt.Errorf("running %s: %w", a.Bin, err)
	}

	// both clean and vulnerable runs produce a JSON document,
	// anything else is a broken auditor
	var report Report
	if err := json.Unmarshal(res.Output, &report); err != nil {
		return nil, fmt.Errorf("parsing %s output for %s: %w", a.Bin, lockfile, err)
	}

	if report.Vulnerabilities.Count == 0 {
		slog.DebugContext(ctx, "lockfile is clean", "lockfile", lockfile, "exit_code", res.ExitCode())
		return nil, nil
	}

	for _, vuln := range report.Vulnerabilities.List {
		slog.WarnContext(ctx, "vulnerable dependency",
			"lockfile", lockfile,
			"advisory", vuln.Advisory.ID,
			"package", vuln.Package.Name,
			"version", vuln.Package.Version,
			"cvss", vuln.Advisory.CVSS,
			"categories", strings.Join(vuln.Advisory.Categories, ","),
		)
	}
	return &report, nil
}
