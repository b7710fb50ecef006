package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/pkg/schema"
)

func dispatchCmd(flags *globalFlags) *cobra.Command {
	var (
		kind    string
		payload string
		input   string
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch an event against the configured store",
		Long: "Resumes every persisted instance with a matching bookmark and starts instances of\n" +
			"definitions whose triggers match, then prints the affected instance IDs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			in, err := parseObject(input)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}
			ctx := cmd.Context()
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			rt, closeRuntime, err := openRuntime(ctx, cfg, logger,
				runtime.WithServices(engine.NewServices(map[string]any{engine.ServiceOutput: os.Stderr})))
			if err != nil {
				return err
			}
			defer closeRuntime()

			res, err := rt.Dispatch(ctx, schema.Event{Kind: kind, Payload: parsePayload(payload), Input: in})
			if err != nil && len(res.InstanceIDs()) == 0 {
				return err
			}
			if err != nil {
				logger.Warn("dispatch partially failed", "error", err)
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind: an awaited event name, or Cron")
	cmd.Flags().StringVar(&payload, "payload", "", "event payload (JSON or plain string)")
	cmd.Flags().StringVar(&input, "input", "", "input delivered to the resumed activity, as a JSON object")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
