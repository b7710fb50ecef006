package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/logging"
)

func diagramCmd(flags *globalFlags) *cobra.Command {
	var (
		format     string
		instanceID string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "diagram [definition.json]",
		Short: "Draw a definition file, or a persisted instance with its activity statuses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (instanceID == "") {
				return errors.New("pass either a definition file or --instance")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.DBDriver = "memory"
			}
			ctx := cmd.Context()
			rt, closeRuntime, err := openRuntime(ctx, cfg, logging.Discard())
			if err != nil {
				return err
			}
			defer closeRuntime()

			definitionID := ""
			if len(args) == 1 {
				wd, err := readDefinition(args[0])
				if err != nil {
					return err
				}
				def, err := rt.RegisterJSON(ctx, wd)
				if err != nil {
					return err
				}
				definitionID = def.ID()
			}
			model, err := rt.Diagram(ctx, definitionID, 0, instanceID)
			if err != nil {
				return err
			}

			var out []byte
			switch format {
			case "ascii":
				out = []byte(diagram.RenderASCII(model))
			case "mermaid":
				out = []byte(diagram.RenderMermaid(model))
			case "png", "svg":
				if out, err = diagram.RenderImageFormat(ctx, model, diagram.ImageFormat(format)); err != nil {
					return err
				}
				if output == "" {
					return fmt.Errorf("--output is required for %s", format)
				}
			default:
				return fmt.Errorf("unknown format %q (want ascii, mermaid, png or svg)", format)
			}
			if output != "" {
				return os.WriteFile(output, out, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "ascii", "ascii, mermaid, png or svg")
	cmd.Flags().StringVar(&instanceID, "instance", "", "persisted instance to draw with statuses")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
