package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		inputs  string
		events  []string
		persist bool
	)
	cmd := &cobra.Command{
		Use:   "run <definition.json>",
		Short: "Start an instance of a definition file and feed it events",
		Long: "Registers the definition, starts one instance and resumes it with each --event in order.\n" +
			"The final instance state is printed as JSON. Without --persist an in-memory store is used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !persist {
				cfg.DBDriver = "memory"
			}
			in, err := parseObject(inputs)
			if err != nil {
				return fmt.Errorf("--inputs: %w", err)
			}
			evs := make([]schema.Event, 0, len(events))
			for _, raw := range events {
				ev, err := parseEventFlag(raw)
				if err != nil {
					return err
				}
				evs = append(evs, ev)
			}
			wd, err := readDefinition(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			rt, closeRuntime, err := openRuntime(ctx, cfg, logger,
				runtime.WithServices(engine.NewServices(map[string]any{engine.ServiceOutput: cmd.ErrOrStderr()})))
			if err != nil {
				return err
			}
			defer closeRuntime()

			def, err := rt.RegisterJSON(ctx, wd)
			if err != nil {
				return err
			}
			handle, err := rt.StartNewInstance(ctx, def.ID(), in)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				status, err := rt.ResumeInstance(ctx, handle.InstanceID, ev)
				if err != nil {
					return err
				}
				if status.Terminal() {
					break
				}
			}
			st, err := rt.Instance(ctx, handle.InstanceID)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().StringVar(&inputs, "inputs", "", "workflow inputs as a JSON object")
	cmd.Flags().StringArrayVar(&events, "event", nil, "event to resume with, as kind=payload (repeatable)")
	cmd.Flags().BoolVar(&persist, "persist", false, "use the configured store instead of memory")
	return cmd
}

// parseEventFlag parses kind=payload. A payload that is valid JSON is
// decoded, anything else is taken as a string.
func parseEventFlag(raw string) (schema.Event, error) {
	kind, payload, _ := strings.Cut(raw, "=")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return schema.Event{}, fmt.Errorf("invalid event %q: want kind=payload", raw)
	}
	return schema.Event{Kind: kind, Payload: parsePayload(payload)}, nil
}

func parsePayload(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := xjson.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func parseObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := xjson.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	return m, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := xjson.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
