package cli

import (
	"github.com/go-gnutella/go-gnutella/lib/config"
	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger()

type rootOptions struct {
	cfgFile string
	verbose bool
	dump    bool
}

// NewRootCommand returns the command tree. Each call builds fresh flags so
// tests can run commands side by side.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "go-gnutella",
		Short:         "Encode, decode and serve Gnutella 0.6 messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logger.SetVerbose()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default $HOME/.go-gnutella/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")
	cmd.PersistentFlags().BoolVar(&opts.dump, "dump", false, "dump decoded structures with spew")

	cmd.AddCommand(
		newDecodeCommand(opts),
		newBuildCommand(opts),
		newInspectCommand(opts),
		newListenCommand(opts),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads and validates the configuration selected by --config.
func (o *rootOptions) load() (config.CodecConfig, error) {
	config.CfgFile = o.cfgFile
	config.InitConfig()
	cfg := config.CurrentConfig()
	if err := config.Validate(cfg); err != nil {
		return cfg, oops.Wrapf(err, "loading %s", o.cfgFile)
	}
	log.WithFields(logger.Fields{
		"at":       "cli.load",
		"soft_max": cfg.Message.SoftMax,
		"locale":   cfg.Locale.Language,
	}).Debug("config_loaded")
	return cfg, nil
}

func (o *rootOptions) settings() (*messages.Settings, config.CodecConfig, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, cfg, err
	}
	return messages.NewSettings(cfg), cfg, nil
}
