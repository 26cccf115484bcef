package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/config"
	errwrap "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
)

// doctorCheck is one diagnostic line. ok=false marks a problem worth fixing.
type doctorCheck struct {
	name    string
	detail  string
	warning string
	ok      bool
	err     error
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check config, the conversation store and provider routing for each research stage without calling any provider.",
	Run: func(cmd *cobra.Command, args []string) {
		identity := GetAppIdentity()
		observability.CLILogger.Info("=== " + identity.BinaryName + " doctor ===")
		observability.CLILogger.Info("")

		checks := runDoctorChecks(cmd.Context())
		healthy := true
		for i, check := range checks {
			line := fmt.Sprintf("[%d/%d] %s... ", i+1, len(checks), check.name)
			if check.ok && check.warning != "" {
				observability.CLILogger.Warn(line + "✅ " + check.detail + " (" + check.warning + ")")
				continue
			}
			if check.ok {
				observability.CLILogger.Info(line + "✅ " + check.detail)
				continue
			}
			healthy = false
			fields := []zap.Field{}
			if check.err != nil {
				fields = append(fields, zap.Error(check.err))
			}
			observability.CLILogger.Warn(line+"⚠️  "+check.detail, fields...)
		}

		observability.CLILogger.Info("")
		if !healthy {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Diagnostics found problems", errwrap.NewConfigInvalidError("one or more checks failed"))
		}
		observability.CLILogger.Info("All checks passed")
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctorChecks(ctx context.Context) []doctorCheck {
	checks := []doctorCheck{{
		name:   "Runtime",
		detail: fmt.Sprintf("%s %s/%s, gofulmen %s", runtime.Version(), runtime.GOOS, runtime.GOARCH, crucible.GetVersion().Gofulmen),
		ok:     true,
	}}

	cfg, err := config.Load(ctx)
	if err != nil {
		return append(checks, doctorCheck{name: "Config", detail: "cannot load config", err: err})
	}
	source := config.ConfigFileUsed()
	if source == "" {
		source = "defaults and environment (no file at " + filepath.Dir(config.DefaultConfigPath()) + ")"
	}
	checks = append(checks, doctorCheck{name: "Config", detail: source, ok: true})

	checks = append(checks, storeCheck(ctx, cfg))

	invoker, err := buildInvoker(cfg)
	if err != nil {
		return append(checks, doctorCheck{name: "Prompts", detail: "cannot load prompts", err: err})
	}
	checks = append(checks, doctorCheck{name: "Prompts", detail: fmt.Sprintf("%d loaded", len(invoker.Prompts.List())), ok: true})

	for _, res := range resolveStages(invoker, researchModels(cfg.Research)) {
		check := doctorCheck{name: "Stage " + string(res.Stage)}
		if res.Err != nil {
			check.detail = "no usable provider"
			check.err = res.Err
		} else {
			check.ok = true
			check.detail = fmt.Sprintf("%s model=%s credential=%s", res.ProviderID, res.Model, res.Credential)
			check.warning = res.Warning
		}
		checks = append(checks, check)
	}

	if len(cfg.Auth.Tokens) == 0 && !cfg.Auth.AllowAnonymous {
		checks = append(checks, doctorCheck{name: "Auth", detail: "no tokens configured; every request will be rejected"})
	} else {
		checks = append(checks, doctorCheck{name: "Auth", detail: fmt.Sprintf("%d tokens, anonymous=%t", len(cfg.Auth.Tokens), cfg.Auth.AllowAnonymous), ok: true})
	}

	return checks
}

func storeCheck(ctx context.Context, cfg *config.Config) doctorCheck {
	check := doctorCheck{name: "Store"}
	target := cfg.Store.URL
	if target == "" {
		target = cfg.Store.Path
	}

	st, _, err := openStore(ctx)
	if err != nil {
		check.detail = "cannot open " + target
		check.err = err
		return check
	}
	defer st.Close() //nolint:errcheck

	if err := st.Ping(ctx); err != nil {
		check.detail = "cannot reach " + target
		check.err = err
		return check
	}
	check.ok = true
	check.detail = fmt.Sprintf("%s (%s)", target, st.Driver())
	return check
}
