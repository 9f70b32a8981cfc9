package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	envFile     string
	url         string
	logLevel    string
	logFormat   string
	concurrency int
	historyDB   string
	policyDir   string
	disabled    []string
	jsonOutput  bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)

	var ee *exitError
	if errors.As(err, &ee) && ee.msg != "" {
		fmt.Fprintln(os.Stderr, ee.msg)
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "fusionctl",
		Short: "Declarative configuration for Fusion search clusters",
		Long: `fusionctl converges a Fusion server on a declared configuration.

A declaration lists collections (with schema fields, field types and Solr
config files) and query and index pipelines. fusionctl compares it with the
server and adds or replaces what is missing or different. Nothing that is
absent from the declaration is ever deleted.

Connection and runtime settings come from FUSION_* environment variables or
a .env file, e.g. FUSION_API_COLLECTION_URL.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError("%v\n\n%s", err, cmd.UsageString())
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with FUSION_* settings")
	flags.StringVar(&opts.url, "url", "", "connection URL (overrides FUSION_API_COLLECTION_URL)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "collections reconciled at once")
	flags.StringVar(&opts.historyDB, "history-db", "", "SQLite run history path")
	flags.StringVar(&opts.policyDir, "policy-dir", "", "directory with extra .rego policies")
	flags.StringSliceVar(&opts.disabled, "disable-policy", nil, "skip the named policy (repeatable)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newConfigureCommand(opts))
	rootCmd.AddCommand(newDeleteCommand(opts))
	rootCmd.AddCommand(newExportCommand(opts))
	rootCmd.AddCommand(newDirCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// overrides returns the settings set explicitly on the command line.
func (o *globalOptions) overrides(cmd *cobra.Command) map[string]interface{} {
	out := map[string]interface{}{}
	flags := cmd.Flags()
	set := func(flag, key string, value interface{}) {
		if flags.Changed(flag) {
			out[key] = value
		}
	}
	set("url", "api_collection_url", o.url)
	set("log-level", "log.level", o.logLevel)
	set("log-format", "log.format", o.logFormat)
	set("concurrency", "concurrency", o.concurrency)
	set("history-db", "history_db", o.historyDB)
	set("policy-dir", "policy_dir", o.policyDir)
	set("disable-policy", "disabled_policies", o.disabled)
	return out
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError("%s takes exactly %d argument(s), got %d\n\n%s", cmd.Name(), n, len(args), cmd.UsageString())
		}
		return nil
	}
}

// maxArgs is cobra.MaximumNArgs reporting a usage error.
func maxArgs(n int, msg string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError("%s", msg)
		}
		return nil
	}
}
