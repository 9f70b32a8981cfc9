package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/fusion"
	"github.com/fusionctl/fusionctl/pkg/objectstore"
)

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		outDir string
		bucket string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "export <manifest-file>",
		Short: "Dump server configuration to files",
		Long: `Export the collections named in a manifest, plus every non-system query
and index pipeline, as a declaration with its schema and config files.

The manifest is a declaration file; only its collection names are used. A
manifest without collections exports every collection on the server. The
output directory or bucket receives fusion.yaml and one <collection>/conf
directory per collection, ready for "fusionctl configure".`,
		Example: `  # Export to a local directory
  fusionctl export --out ./backup manifest.yaml

  # Export to an S3-compatible bucket
  fusionctl export --bucket fusion-backups --prefix nightly manifest.yaml`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket != "" && cmd.Flags().Changed("out") {
				return usageError("--out and --bucket are mutually exclusive")
			}

			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			loader, err := config.NewLoader(a.logger)
			if err != nil {
				return err
			}
			manifest, err := loader.Load(args[0])
			if err != nil {
				return err
			}

			client, err := a.client(nil)
			if err != nil {
				return err
			}
			names := manifest.CollectionNames()
			if len(names) == 0 {
				if names, err = client.Collections(ctx); err != nil {
					return err
				}
			}

			var sink fusion.Sink = fusion.DirSink{Root: outDir}
			target := outDir
			if bucket != "" {
				storage, err := objectstore.NewClient(a.settings.Storage, a.settings.HTTP.Timeout)
				if err != nil {
					return err
				}
				s := objectstore.NewSink(storage, bucket,
					objectstore.WithPrefix(prefix),
					objectstore.WithRegion(a.settings.Storage.Region),
					objectstore.WithLogger(a.logger),
				)
				if err := s.EnsureBucket(ctx); err != nil {
					return err
				}
				sink = s
				target = "s3://" + bucket + "/" + s.Key("")
			}

			decl, err := client.Export(ctx, names, sink)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d collection(s), %d query pipeline(s) and %d index pipeline(s) to %s\n",
				len(decl.Collections), len(decl.QueryPipelines), len(decl.IndexPipelines), target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "export", "output directory")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3-compatible bucket (uses FUSION_STORAGE_* settings)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix within the bucket")

	return cmd
}
