package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/pkg/schema"
)

var errInvalidDefinition = errors.New("definition is invalid")

func validateCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <definition.json>...",
		Short: "Check definition files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			rt, err := runtime.New(runtimeConfig(cfg), runtime.WithLogger(logging.Discard()))
			if err != nil {
				return err
			}
			defer rt.Close()

			results := make(map[string]*schema.ValidationResult, len(args))
			invalid := false
			for _, path := range args {
				wd, err := readDefinition(path)
				if err != nil {
					return err
				}
				res := rt.Validate(wd)
				results[path] = res
				if !res.Valid() {
					invalid = true
				}
				if !asJSON {
					writeValidation(cmd.OutOrStdout(), filepath.Base(path), res)
				}
			}
			if asJSON {
				if err := printJSON(cmd, results); err != nil {
					return err
				}
			}
			if invalid {
				return errInvalidDefinition
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON keyed by file")
	return cmd
}
