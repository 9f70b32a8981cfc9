package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a declaration without contacting the server",
		Long: `Validate a declaration file against the declaration schema and the
guardrail policies.

This command checks:
  - syntax of the JSON, YAML, TOML or CUE file
  - schema conformance
  - built-in policies and any .rego files in --policy-dir, except those
    named by --disable-policy`,
		Example: `  # Validate a declaration
  fusionctl validate fusion.yaml

  # With extra policies
  fusionctl validate --policy-dir ./policies fusion.cue`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			eng, err := a.policies(ctx)
			if err != nil {
				return err
			}
			decl, result, err := a.loadDeclaration(ctx, eng, args[0], "validate", engine.ModeCheck)
			if err != nil {
				return err
			}

			if a.json {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"valid":       true,
					"collections": decl.CollectionNames(),
					"policies":    result.EvaluatedPolicies,
					"warnings":    result.Warnings,
				})
			}
			out := cmd.OutOrStdout()
			for _, p := range eng.ListPolicies() {
				state := "checked"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "policy %s: %s\n", p.Name, state)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Policy, w.Message)
			}
			fmt.Fprintf(out, "%s is valid: %d collection(s), %d query pipeline(s), %d index pipeline(s).\n",
				args[0], len(decl.Collections), len(decl.QueryPipelines), len(decl.IndexPipelines))
			return nil
		},
	}
}
