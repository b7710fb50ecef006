package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "waypoint",
		Short:         "Activity execution and suspension engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "settings file (default: ~/.waypoint/settings.json)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level: debug, info, warn, error")

	root.AddCommand(
		serveCmd(flags),
		runCmd(flags),
		dispatchCmd(flags),
		validateCmd(flags),
		diagramCmd(flags),
		secretCmd(flags),
		activitiesCmd(),
		installCmd(),
		versionCmd(),
	)
	return root
}

// load resolves the layered config and applies command-line overrides.
func (f *globalFlags) load() (Config, error) {
	path := f.configPath
	if path == "" {
		path = settingsPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

// newLogger returns a stderr text logger whose level can be changed later.
func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(level))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(handler)), lv
}
