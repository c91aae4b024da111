package cargoaudit_test

import (
	"archive/tar"
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// end to end tests running the compiled service binary, the way the
// build service invokes it

var binPath string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !isExecutable("cargo-audit-ci") {
		slog.Warn("cannot locate cargo-audit-ci binary: run go build -o cargo-audit-ci ./cmd/cargo-audit-service/ first, skipping")
		os.Exit(0)
	}

	var err error
	binPath, err = filepath.Abs("cargo-audit-ci")
	if err != nil {
		slog.Error("can't get abspath for cargo-audit-ci", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o100 != 0
}

const cleanReport = `{"vulnerabilities": {"found": false, "count": 0, "list": []}}`

const vulnerableReport = `{
  "vulnerabilities": {
    "found": true,
    "count": 1,
    "list": [
      {
        "advisory": {
          "id": "RUSTSEC-2019-0012",
          "package": "smallvec",
          "title": "Memory corruption in SmallVec::grow()",
          "categories": ["memory-corruption"],
          "cvss": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"
        },
        "package": {"name": "smallvec", "version": "0.6.9"}
      }
    ]
  }
}`

// workdir builds a build service working directory: stub binaries, a
// config file pointing at them and optionally a source archive.
func workdir(t *testing.T, report string, auditExit int, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	dir := t.TempDir()

	fixture := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(fixture, []byte(report), 0o644))

	cargoBin := filepath.Join(dir, "cargo")
	require.NoError(t, os.WriteFile(cargoBin,
		[]byte("#!/bin/sh\ndir=$(dirname \"$3\")\necho '# generated' > \"$dir/Cargo.lock\"\n"), 0o755))

	auditBin := filepath.Join(dir, "cargo-audit")
	script := fmt.Sprintf("#!/bin/sh\ncat %q\nexit %d\n", fixture, auditExit)
	require.NoError(t, os.WriteFile(auditBin, []byte(script), 0o755))

	config := fmt.Sprintf("cargo: %s\ncargo_audit: %s\nadvisory_db: %s\ntimeout: 1m\n",
		cargoBin, auditBin, filepath.Join(dir, "advisory-db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cargo_audit.yaml"), []byte(config), 0o644))

	if files != nil {
		f, err := os.Create(filepath.Join(dir, "project-1.0.0.tar"))
		require.NoError(t, err)
		tw := tar.NewWriter(f)
		for path, body := range files {
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name: path,
				Mode: 0o644,
				Size: int64(len(body)),
			}))
			_, err = tw.Write([]byte(body))
			require.NoError(t, err)
		}
		require.NoError(t, tw.Close())
		require.NoError(t, f.Close())
	}
	return dir
}

func runService(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	args = append(args, "--config", filepath.Join(dir, "cargo_audit.yaml"), "--outdir", t.TempDir())
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Dir = dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()

	code := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		require.True(t, ok, "service did not run: %v\n%s", err, output.String())
		code = exitErr.ExitCode()
	}
	return code, output.String()
}

func TestCleanProject(t *testing.T) {
	dir := workdir(t, cleanReport, 0, map[string]string{
		"project-1.0.0/Cargo.toml": "[package]\n",
		"project-1.0.0/Cargo.lock": "# lock\n",
	})

	code, output := runService(t, dir)
	require.Equal(t, 0, code, output)
	require.Contains(t, output, "audit passed")
}

func TestManifestOnly(t *testing.T) {
	dir := workdir(t, cleanReport, 0, map[string]string{
		"project-1.0.0/Cargo.toml": "[package]\n",
	})

	code, output := runService(t, dir)
	require.Equal(t, 0, code, output)
	require.Contains(t, output, "generating lockfile")
	require.Contains(t, output, "audit passed")
}

func TestVulnerableProject(t *testing.T) {
	dir := workdir(t, vulnerableReport, 1, map[string]string{
		"project-1.0.0/Cargo.lock": "# lock\n",
	})

	code, output := runService(t, dir)
	require.Equal(t, 1, code, output)
	require.Contains(t, output, "RUSTSEC-2019-0012")
	require.Contains(t, output, "manual review required")
}

func TestTargetedAdvisory(t *testing.T) {
	dir := workdir(t, vulnerableReport, 1, map[string]string{
		"project-1.0.0/Cargo.lock": "# lock\n",
	})

	code, output := runService(t, dir, "--rustsec-id", "RUSTSEC-2019-0012")
	require.Equal(t, 1, code, output)
	require.Contains(t, output, "affected by advisory")

	code, output = runService(t, dir, "--rustsec-id", "RUSTSEC-2018-0001")
	require.Equal(t, 0, code, output)
	require.Contains(t, output, "not affected by advisory")
}

func TestNoArchives(t *testing.T) {
	dir := workdir(t, cleanReport, 0, nil)

	code, output := runService(t, dir)
	require.Equal(t, 1, code, output)
	require.Contains(t, output, "no source directories found")
}
