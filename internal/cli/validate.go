package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/okian/tripwire/internal/adapters/configsource"
	"github.com/okian/tripwire/internal/domain/expression"
)

// ValidationResult summarises a valid trigger document.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Events map[string]int `json:"events"` // event name -> rule count
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <triggers.yaml>",
		Short: "Validate a trigger document",
		Long: `Parse a trigger document and compile every rule expression in its
declared dialect without installing anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	engine, err := expression.New()
	if err != nil {
		return out.Fail(ExitCommandError, "engine", err)
	}
	out.VerboseLog("loading %s", path)
	triggers, err := configsource.Load(cmd.Context(), path, engine)
	if err != nil {
		return out.Fail(ExitFailure, "invalid", err)
	}

	result := ValidationResult{Valid: true, Events: make(map[string]int, len(triggers))}
	for name, tr := range triggers {
		result.Events[name] = len(tr.Rules)
	}
	return out.Success(result, func(w io.Writer) {
		names := make([]string, 0, len(result.Events))
		for name := range result.Events {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "✓ %d trigger(s) valid\n", len(names))
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d rule(s)\n", name, result.Events[name])
		}
	})
}
