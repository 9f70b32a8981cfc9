package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/policy"
	"github.com/fusionctl/fusionctl/pkg/stores"
	"github.com/fusionctl/fusionctl/pkg/telemetry"
)

const (
	msgMatches = "Fusion collection matches file configuration."
	msgDiffers = "Fusion configuration differs from files.  Maybe clean to start over."
)

// configureOptions controls one configure pass.
type configureOptions struct {
	overwrite bool
	dryRun    bool
}

func newConfigureCommand(opts *globalOptions) *cobra.Command {
	var co configureOptions

	cmd := &cobra.Command{
		Use:   "configure <file>",
		Short: "Converge the server on a declaration",
		Long: `Converge the server on a declaration file (JSON, YAML, TOML or CUE).

The server is checked first. A fresh server or a missing collection is
configured right away. When existing configuration differs from the file the
command stops with exit code 5 unless --overwrite is given.`,
		Example: `  # Apply a declaration
  fusionctl configure fusion.yaml

  # Report what would change
  fusionctl configure --dry-run fusion.yaml

  # Replace differing fields and pipelines
  fusionctl configure --overwrite fusion.json`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.configure(cmd.Context(), args[0], co)
			if err != nil {
				return err
			}
			return reportOutcome(cmd, outcome)
		},
	}

	cmd.Flags().BoolVar(&co.overwrite, "overwrite", false, "replace differing configuration")
	cmd.Flags().BoolVar(&co.dryRun, "dry-run", false, "only report, never write")

	return cmd
}

// configure runs the check pass and, when allowed, the write pass. It returns
// the outcome of the last pass.
func (a *app) configure(ctx context.Context, path string, co configureOptions) (outcome engine.Outcome, err error) {
	eng, err := a.policies(ctx)
	if err != nil {
		return 0, err
	}
	decl, _, err := a.loadDeclaration(ctx, eng, path, "configure", engine.ModeCheck)
	if err != nil {
		return 0, err
	}

	store, err := a.history(ctx)
	if err != nil {
		return 0, err
	}
	if store != nil {
		defer store.Close()
	}

	changes := stores.NewChangeLog("configure", path, engine.ModeCheck)
	ctx, span := a.tel.Tracer.StartRunSpan(ctx, changes.ID(), engine.ModeCheck.String())
	changes.SetTraceID(telemetry.TraceID(ctx))
	ctx = a.logger.With().Str("run", changes.ID()).Logger().WithContext(ctx)
	defer func() {
		telemetry.End(span, err)
		a.saveRun(ctx, store, changes.Finish(outcomeName(outcome, err), err))
	}()

	client, err := a.client(changes)
	if err != nil {
		return 0, err
	}

	outcome, err = client.EnsureConfig(ctx, decl, engine.ModeCheck)
	if err != nil {
		return outcome, err
	}

	write := false
	switch outcome {
	case engine.OutcomeAbsent:
		// Nothing to overwrite.
		write = !co.dryRun
	case engine.OutcomeDiffers:
		write = co.overwrite && !co.dryRun
	}
	if !write {
		return outcome, nil
	}

	changes.SetMode(engine.ModeWrite)
	if _, err := eng.Check(ctx, decl, &policy.Context{Operation: "configure", Mode: engine.ModeWrite.String(), Source: path}); err != nil {
		return outcome, err
	}
	return client.EnsureConfig(ctx, decl, engine.ModeWrite)
}

// reportOutcome prints the result of configure and picks the exit code.
func reportOutcome(cmd *cobra.Command, outcome engine.Outcome) error {
	out := cmd.OutOrStdout()
	switch outcome {
	case engine.OutcomeReady:
		fmt.Fprintln(out, msgMatches)
		return nil
	case engine.OutcomeAbsent:
		// Only reachable with --dry-run.
		fmt.Fprintln(out, "Fusion is missing declared configuration; configure would create it.")
		return &exitError{code: ExitDiffers}
	default:
		return &exitError{code: ExitDiffers, msg: msgDiffers}
	}
}

func outcomeName(outcome engine.Outcome, err error) string {
	if err != nil {
		return "error"
	}
	return outcome.String()
}
