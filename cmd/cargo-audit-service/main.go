package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/openSUSE/obs-service-cargo-audit/internal/log"
	"github.com/openSUSE/obs-service-cargo-audit/internal/model"
	"github.com/openSUSE/obs-service-cargo-audit/internal/service"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "cargo_audit.yaml"

var (
	config model.Config

	flagConfigFilePath string // value of --config flag
	flagSrcDir         string // value of --srcdir flag
	flagLockfile       string // value of --lockfile flag
	flagOutDir         string // value of --outdir flag, accepted and ignored
	flagRustsecID      string // value of --rustsec-id flag
	flagVerbose        bool   // value of --verbose flag
)

var errVulnerabilitiesFound = errors.New("vulnerabilities found")

func main() {
	rootCmd.Flags().StringVar(&flagSrcDir, "srcdir", "", "already unpacked source directory to scan instead of archives in the working directory")
	rootCmd.Flags().StringVar(&flagLockfile, "lockfile", "", "explicit lockfile path, relative to the source directory")
	rootCmd.Flags().StringVar(&flagOutDir, "outdir", "", "ignored, present for the source service calling convention")
	rootCmd.Flags().StringVar(&flagRustsecID, "rustsec-id", "", "only check whether this single advisory affects the sources")
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load - default is "+defaultConfigFile+" in the working directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse a config, setup logging
	rootCmd.PersistentPreRunE = initService

	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errVulnerabilitiesFound) {
			slog.Error("cargo_audit failed", "err", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cargo-audit-service",
	Short:        "Source service auditing Rust dependency lockfiles for known vulnerabilities",
	SilenceUsage: true,
	RunE:         doScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of the service",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("cargo-audit-service: version info not available")
			return
		}
		fmt.Printf("cargo-audit-service: %s\n", info.Main.Version)
		fmt.Printf("go:                  %s\n", info.GoVersion)
	},
}

func doScan(cmd *cobra.Command, args []string) error {
	if flagRustsecID != "" && !model.IsAdvisoryID(flagRustsecID) {
		return fmt.Errorf("--rustsec-id: %q is not a RustSec advisory id", flagRustsecID)
	}

	ctx, runID := log.ContextRunID(cmd.Context())
	slog.DebugContext(ctx, "starting audit run", "run_id", runID, "srcdir", flagSrcDir, "lockfile", flagLockfile, "rustsec_id", flagRustsecID)

	outcome, err := service.Scan(ctx, config, service.Options{
		SrcDir:     flagSrcDir,
		Lockfile:   flagLockfile,
		AdvisoryID: flagRustsecID,
	})
	if err != nil {
		return err
	}

	if flagRustsecID != "" {
		if outcome.Vulnerable() {
			slog.WarnContext(ctx, "affected by advisory", "advisory", flagRustsecID)
			return errVulnerabilitiesFound
		}
		slog.InfoContext(ctx, "not affected by advisory", "advisory", flagRustsecID)
		return nil
	}

	if outcome.Vulnerable() {
		slog.WarnContext(ctx, "vulnerabilities found, manual review required",
			"lockfiles", len(outcome.Lockfiles),
			"affected", len(outcome.Findings),
		)
		return errVulnerabilitiesFound
	}

	slog.InfoContext(ctx, "audit passed, no known vulnerabilities",
		"lockfiles", len(outcome.Lockfiles),
	)
	return nil
}

func initService(cmd *cobra.Command, _ []string) error {
	configPath := flagConfigFilePath
	if configPath == "" && exists(defaultConfigFile) {
		configPath = defaultConfigFile
	}

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose and the environment switch have precedence over the config file
	if flagVerbose || os.Getenv("CARGO_AUDIT_DEBUG") != "" {
		config.Verbose = true
	}

	slog.SetDefault(log.New(config.Verbose))
	slog.Debug("cargo_audit run", "configPath", configPath, "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
