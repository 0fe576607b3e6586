// Package cli implements the cekafka command line.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/cekafka/internal/runtime"
	configpkg "github.com/drblury/cekafka/internal/runtime/config"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
)

// options are the flags shared by every command.
type options struct {
	configPath string
	topic      string
	brokers    []string
	registry   string
	logLevel   string
	logFormat  string
	inMemory   bool
	partitions int
	sets       []string
}

// NewRoot returns the cekafka root command with all subcommands attached.
func NewRoot() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "cekafka",
		Short: "Produce and consume CloudEvents customer records on Kafka",
		Long: "cekafka publishes customer records as CloudEvents envelopes to a Kafka topic, " +
			"validated against the schema registry, and consumes them back with a configurable record policy.",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "client properties file (.properties or .json)")
	flags.StringVar(&opts.topic, "topic", "", "topic to produce to and consume from")
	flags.StringSliceVar(&opts.brokers, "bootstrap-servers", nil, "comma separated Kafka brokers")
	flags.StringVar(&opts.registry, "schema-registry-url", "", "schema registry base URL")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (json, text)")
	flags.BoolVar(&opts.inMemory, "in-memory", false, "use an in-memory log and schema source instead of Kafka")
	flags.IntVar(&opts.partitions, "partitions", runtimepkg.DefaultMemoryPartitions, "partition count of the in-memory log")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a property, key=value (repeatable)")

	root.AddCommand(
		newProduceCmd(opts),
		newSendCmd(opts),
		newConsumeCmd(opts),
		newDeadLettersCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// config resolves the configuration: file, then CEKAFKA_* environment, then
// flags. Unknown keys of the file are returned rather than rejected.
func (o *options) config() (*configpkg.Config, []string, error) {
	conf := configpkg.Default()
	var ignored []string
	if o.configPath != "" {
		var err error
		conf, ignored, err = configpkg.Load(o.configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := configpkg.FromEnv(&conf); err != nil {
		return nil, nil, err
	}

	if o.topic != "" {
		conf.Topic = o.topic
	}
	if len(o.brokers) > 0 {
		conf.KafkaBrokers = o.brokers
	}
	if o.registry != "" {
		conf.SchemaRegistryURL = o.registry
	}
	if o.logLevel != "" {
		conf.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		conf.LogFormat = o.logFormat
	}
	for _, kv := range o.sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		if err := conf.Set(key, value); err != nil {
			return nil, nil, err
		}
	}
	return &conf, ignored, nil
}

// service builds the runtime service, logging to errOut.
func (o *options) service(errOut io.Writer) (*runtimepkg.Service, error) {
	conf, ignored, err := o.config()
	if err != nil {
		return nil, err
	}
	logger, err := loggingpkg.NewHandlerLogger(errOut, conf.LogFormat, conf.LogLevel)
	if err != nil {
		return nil, err
	}
	if len(ignored) > 0 {
		logger.Info("Ignoring unknown properties", loggingpkg.LogFields{"keys": ignored})
	}

	var deps runtimepkg.ServiceDependencies
	if o.inMemory {
		deps, err = runtimepkg.InMemoryDependencies(conf, loggingpkg.NewWatermillAdapter(logger), o.partitions)
		if err != nil {
			return nil, err
		}
	}
	return runtimepkg.NewService(conf, logger, deps)
}
