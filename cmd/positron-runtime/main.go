// Command positron-runtime hosts notebook kernel sessions behind the
// session API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/t-kalinowski/positron/host"
	"github.com/t-kalinowski/positron/observability"
)

var (
	configFile string
	addr       string
	observer   string
	kernels    []string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "positron-runtime",
	Short:         "Run notebook kernel sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		observability.RegisterObserver("slog", observability.NewSlogObserver(logger))
	},
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, configCmd)
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "c", "", "Path to a JSON or YAML config file")
	fs.StringVar(&addr, "addr", "", "Listen address for the session API (overrides config)")
	fs.StringVar(&observer, "observer", "", "Comma-separated registered observer names (overrides config)")
	fs.StringArrayVar(&kernels, "kernel", nil, `Kernel command as language=argv, e.g. "python=python3 -m ipykernel_launcher -f {connection_file}"`)
	fs.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging to stderr")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*host.Config, error) {
	cfg := host.DefaultConfig()
	if configFile != "" {
		loaded, err := host.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	var overrides host.Config
	overrides.Server.Addr = addr
	overrides.Observer = observer
	if len(kernels) > 0 {
		overrides.Session.KernelCommands = make(map[string][]string, len(kernels))
		for _, entry := range kernels {
			language, argv, ok := strings.Cut(entry, "=")
			fields := strings.Fields(argv)
			if !ok || language == "" || len(fields) == 0 {
				return nil, fmt.Errorf("invalid --kernel %q: want language=argv", entry)
			}
			overrides.Session.KernelCommands[language] = fields
		}
	}

	cfg.Merge(&overrides)
	return &cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
