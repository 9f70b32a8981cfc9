package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

func newDeleteCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [collection]",
		Short: "Delete a collection and its data",
		Long: `Delete a collection, purging its data and the backing Solr collection.

Without an argument the collection named in the connection URL is deleted.
Deleting a collection that does not exist succeeds.`,
		Example: `  # Delete the default collection
  fusionctl delete

  # Delete a named collection
  fusionctl delete products`,
		Args: maxArgs(1, "Too many arguments.  Name at most one collection."),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			client, err := a.client(nil)
			if err != nil {
				return err
			}
			coll := client.Collection(name)
			err = coll.Delete(cmd.Context(), true, true)
			if engine.IsNotFound(err) {
				a.logger.Info().Str("collection", coll.Name()).Msg("Collection already absent")
				err = nil
			}
			if err != nil {
				return err
			}
			if a.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": coll.Name()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Collection %s deleted.\n", coll.Name())
			return nil
		},
	}
	return cmd
}
