// Command aosd is the kernel's process entrypoint: it wires a
// content-addressed store, an append-only journal, a manifest, and the
// kernel stepper together behind the ingress surface, and runs the
// stepper loop until told to stop.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/aoscore/aos/pkg/audit"
	"github.com/aoscore/aos/pkg/config"
	"github.com/aoscore/aos/pkg/governance"
	"github.com/aoscore/aos/pkg/ingress"
	"github.com/aoscore/aos/pkg/journal"
	"github.com/aoscore/aos/pkg/kernel"
	"github.com/aoscore/aos/pkg/manifest"
	"github.com/aoscore/aos/pkg/observability"
	"github.com/aoscore/aos/pkg/sandbox"
	"github.com/aoscore/aos/pkg/store"
)

// envSecretSource resolves a secret alias/version pair from the process
// environment as AOS_SECRET_<ALIAS>_<VERSION>, uppercased. A deployment
// wanting a real secret manager (Vault, cloud KMS) supplies its own
// secretref.Source instead; this one exists so the binary boots standalone.
type envSecretSource struct{}

func (envSecretSource) Fetch(_ context.Context, alias, version string) ([]byte, error) {
	key := "AOS_SECRET_" + strings.ToUpper(strings.ReplaceAll(alias, "-", "_")) + "_" + strings.ToUpper(version)
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil, fmt.Errorf("secretref: %s not set", key)
	}
	return []byte(v), nil
}

// ANSI colors, matching the rest of the CLI family's output.
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing; main() just forwards to it.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "aosd v0.1.0")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%saos kernel%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sModules propose effects. The kernel disposes them.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  aosd <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sCOMMANDS:%s\n", ColorBold+ColorCyan, ColorReset)
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, "server", ColorReset, "Run the kernel stepper loop (default)")
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, "doctor", ColorReset, "Check process configuration")
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, "version", ColorReset, "Show version information")
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, "help", ColorReset, "Show this help")
	fmt.Fprintln(w, "")
}

// runDoctorCmd checks the process's configuration without starting
// anything, mirroring the sibling CLI's doctor command.
func runDoctorCmd(stdout, _ io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // ok, warn
		Detail string
	}

	cfg := config.Load()
	var results []checkResult

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})
	results = append(results, checkResult{Name: "log_level", Status: "ok", Detail: cfg.LogLevel})
	results = append(results, checkResult{Name: "cas_dsn", Status: "ok", Detail: cfg.CASDSN})
	results = append(results, checkResult{Name: "journal_dsn", Status: "ok", Detail: cfg.JournalDSN})
	if cfg.GovShadowOnly {
		results = append(results, checkResult{Name: "governance", Status: "warn", Detail: "shadow-only: Apply is disabled"})
	} else {
		results = append(results, checkResult{Name: "governance", Status: "ok", Detail: "apply enabled"})
	}

	fmt.Fprintf(stdout, "\n%said doctor%s\n", ColorBold+ColorPurple, ColorReset)
	fmt.Fprintln(stdout, "───────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		}
		fmt.Fprintf(stdout, "  %s  %-16s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}
	fmt.Fprintln(stdout, "")
	return 0
}

// genesisManifest builds the empty manifest a fresh kernel boots with:
// no modules, plans, or routes installed yet. Everything a deployment
// needs is admitted afterward through the governance pipeline's
// Submit/Shadow/Approve/Apply sequence against a real manifest patch —
// never by hand-editing kernel state.
func genesisManifest() *manifest.LoadedManifest {
	return &manifest.LoadedManifest{
		Manifest: manifest.Manifest{
			Defaults: manifest.Defaults{Policy: "default"},
		},
		Schemas:      map[string]manifest.SchemaDef{},
		Modules:      map[string]manifest.ModuleDef{},
		Plans:        map[string]manifest.PlanDef{},
		Effects:      map[string]manifest.EffectDef{},
		Capabilities: map[string]manifest.CapabilityDef{},
		Policies: map[string]manifest.PolicyDef{
			"default": {Name: "default", Rules: []manifest.PolicyRule{{Decision: "Deny"}}},
		},
		Secrets: map[string]manifest.SecretDef{},
	}
}

func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%said kernel starting...%s\n", ColorBold+ColorBlue, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := slog.Default().With("component", "aosd")

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = false // no collector endpoint wired in this deployment yet
	prov, err := observability.New(ctx, obsCfg)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init observability: %v\n", err)
		return 1
	}
	defer func() { _ = prov.Shutdown(context.Background()) }()

	cas := store.NewMemCAS()
	journalLog := journal.NewLog()
	lm := genesisManifest()

	runner, err := sandbox.NewRunner(ctx, cas, sandbox.Config{})
	if err != nil {
		fmt.Fprintf(stderr, "failed to init sandbox runner: %v\n", err)
		return 1
	}

	k, err := kernel.NewKernel(lm, runner, envSecretSource{}, journalLog)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init kernel: %v\n", err)
		return 1
	}

	patchPolicy, err := governance.NewCELPatchPolicy()
	if err != nil {
		fmt.Fprintf(stderr, "failed to init governance patch policy: %v\n", err)
		return 1
	}
	gov := governance.NewPipeline(cas, patchPolicy, k)
	surface := ingress.New(k, cas, gov)

	auditLog := audit.NewLogger()
	_ = auditLog.Record(ctx, audit.EventManifestInstalled, "system", "genesis", "manifest", map[string]interface{}{
		"shadow_only": cfg.GovShadowOnly,
	})

	logger.Info("kernel ready", "cas_dsn", cfg.CASDSN, "journal_dsn", cfg.JournalDSN)
	fmt.Fprintf(stdout, "%said kernel ready%s — press ctrl+c to stop\n", ColorGreen+ColorBold, ColorReset)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return 0
		case <-ticker.C:
			if _, err := surface.Drain(ctx); err != nil {
				logger.Error("drain failed", "error", err)
			}
		}
	}
}
