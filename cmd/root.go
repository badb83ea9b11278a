package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/config"
)

type rootOptions struct {
	configPath string
	fixtures   []string
	cpuProfile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	var stopProfile interface{ Stop() }
	rootCmd := &cobra.Command{
		Use:   "dsquery",
		Short: "Compile and run object queries against a key-value datastore.",
		Example: `dsquery load people.jsonl
dsquery run adults.yml
dsquery explain adults.yml
dsquery --fixtures people.jsonl run adults.yml`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.cpuProfile != "" {
				stopProfile = profile.Start(profile.CPUProfile, profile.ProfilePath(opts.cpuProfile), profile.Quiet)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if stopProfile != nil {
				stopProfile.Stop()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath, "Path of the configuration file.")
	flags.StringSliceVar(&opts.fixtures, "fixtures", nil, "Fixture files to load into the store before running the command.")
	flags.StringVar(&opts.cpuProfile, "cpuprofile", "", "Directory to write a CPU profile to.")

	rootCmd.AddCommand(
		newLoadCmd(opts),
		newRunCmd(opts),
		newExplainCmd(opts),
		newDeleteCmd(opts),
	)
	return rootCmd
}

// withApp sets up the application for a subcommand and tears it down afterwards.
func withApp(ctx context.Context, opts *rootOptions, f func(a *app) error) (outErr error) {
	a, err := newApp(ctx, opts.configPath, opts.fixtures)
	if err != nil {
		return errors.Wrap(err, "couldn't initialize")
	}
	defer func() {
		if err := a.Close(); err != nil && outErr == nil {
			outErr = errors.Wrap(err, "couldn't close")
		}
	}()
	return f(a)
}

func Execute(ctx context.Context) {
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}
