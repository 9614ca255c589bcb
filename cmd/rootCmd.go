package cmd

import (
	"Netlab/pkg"
	"Netlab/pkg/netos"
	"Netlab/pkg/reconcile"
	"context"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

var rootCmd = &cobra.Command{
	Use:   "netlab",
	Short: "netlab Network Namespace CLI",
	Long: `A command-line tool that builds virtual network topologies out of
network namespaces, veth pairs, addresses, routes and firewall rules.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml or toml) holding flag values")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.Bool("dry-run", false, "Run against an in-memory network instead of the host")
	flags.Int("parallel", 1, "Operations of one batch to run concurrently")
	flags.Int("retries", 3, "Retries of an operation failing transiently")
	flags.Duration("retry-interval", 0, "Initial wait between retries (default 500ms)")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("NETLAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setup reads the config file, if any, and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config %s", path)
		}
	}

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(cmd.ErrOrStderr())
	switch format := viper.GetString("log-format"); format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}

// provisioner builds the Provisioner for one command. done releases the
// driver.
func provisioner(cmd *cobra.Command) (p *pkg.Provisioner, done func(), err error) {
	log := logrus.WithField("subsystem", "netlab")
	opts := reconcile.Options{
		Parallelism:   viper.GetInt("parallel"),
		Retries:       viper.GetInt("retries"),
		RetryInterval: viper.GetDuration("retry-interval"),
	}

	var d netos.Driver
	done = func() {}
	if viper.GetBool("dry-run") {
		log.Info("dry run: changes go to an in-memory network")
		d = netos.NewMemNet()
	} else {
		k, err := netos.NewKernel(log.WithField("subsystem", "netos"))
		if err != nil {
			return nil, nil, err
		}
		d = k
		done = func() {
			if err := k.Close(); err != nil {
				log.WithError(err).Warn("error closing kernel driver")
			}
		}
	}
	return pkg.NewProvisioner(pkg.NewManager(d, opts, log), cmd.OutOrStdout()), done, nil
}

// topologyPath takes the topology file from --from or the only argument.
func topologyPath(cmd *cobra.Command, args []string) (string, error) {
	path, _ := cmd.Flags().GetString("from")
	switch {
	case path != "" && len(args) > 0:
		return "", errors.New("give the topology file either with --from or as an argument, not both")
	case path != "":
		return path, nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", errors.New("no topology file given")
}

func addFromFlag(c *cobra.Command) {
	c.Flags().StringP("from", "f", "", "Path to the topology configuration file")
}
