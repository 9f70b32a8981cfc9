package commands

import (
	"github.com/spf13/cobra"
)

func newDirCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "List collections and pipelines as JSON",
		Long: `Print the identities of every collection, query pipeline and index
pipeline on the server, system pipelines included.`,
		Args: exactArgs(0),
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
			dir, err := client.Dir(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dir)
		},
	}
}
