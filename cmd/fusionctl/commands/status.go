package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is initialized and healthy",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			client, err := a.client(nil)
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			if a.json {
				if err := printJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "initialized: %t\n", status.Initialized)
				names := make([]string, 0, len(status.Services))
				for name := range status.Services {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					state := "ok"
					if !status.Services[name] {
						state = "unhealthy"
					}
					fmt.Fprintf(out, "%-12s %s\n", name, state)
				}
			}

			if len(status.Unhealthy) > 0 {
				return engine.NewUnhealthyError(status.Unhealthy)
			}
			return nil
		},
	}
}
