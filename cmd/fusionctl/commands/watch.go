package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/watch"
)

var errDiffers = errors.New("server configuration differs from the declaration; use --overwrite to replace it")

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var co configureOptions

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Configure, then reconfigure whenever the declaration changes",
		Long: `Run configure, then run it again whenever the declaration file, a
config-file directory it references or a policy in --policy-dir changes.
Policies are reloaded on every run. Failed runs are logged and
watching continues until interrupted.`,
		Example: `  # Keep a development server in sync
  fusionctl watch --overwrite fusion.yaml`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			path := args[0]
			loader, err := config.NewLoader(a.logger)
			if err != nil {
				return err
			}

			paths := func() ([]string, error) {
				watched := []string{path}
				if a.settings.PolicyDir != "" {
					dirs, err := policyDirs(a.settings.PolicyDir)
					if err != nil {
						return nil, err
					}
					watched = append(watched, dirs...)
				}
				decl, err := loader.Load(path)
				if err != nil {
					// Keep watching the file so a fix triggers the next run.
					a.logger.Warn().Err(err).Msg("Declaration is invalid")
					return watched, nil
				}
				return append(watched, decl.Dirs()...), nil
			}

			apply := func(ctx context.Context) error {
				outcome, err := a.configure(ctx, path, co)
				if err != nil {
					return err
				}
				if outcome == engine.OutcomeDiffers {
					return errDiffers
				}
				return nil
			}

			return watch.New(paths, apply,
				watch.WithLogger(a.logger),
			).Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&co.overwrite, "overwrite", false, "replace differing configuration")

	return cmd
}

// policyDirs lists root and every directory below it; policies are loaded
// recursively.
func policyDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return dirs, nil
}
