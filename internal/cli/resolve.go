package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/okian/tripwire/internal/adapters/repository"
	app "github.com/okian/tripwire/internal/app"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
)

// ResolveOptions holds the flags of the resolve command.
type ResolveOptions struct {
	Event  string
	User   []string
	Device []string
	Params []string
	Store  string
	DryRun bool
}

// ResolveResult is the printed form of an outcome.
type ResolveResult struct {
	Outcome     string                `json:"outcome"`
	ShowPaywall bool                  `json:"show_paywall"`
	Experiment  *model.Experiment     `json:"experiment,omitempty"`
	Unmatched   []model.UnmatchedRule `json:"unmatched,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve <triggers.yaml>",
		Short: "Resolve an event against a trigger document",
		Long: `Resolve one event with the given attributes. Without --store the
occurrence history and assignments live in memory and vanish on exit; with
--store they persist in the named SQLite file across invocations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Event, "event", "", "event name (required)")
	cmd.Flags().StringArrayVar(&opts.User, "user", nil, "user attribute as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Device, "device", nil, "device attribute as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "event parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "SQLite file for occurrences and assignments")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "evaluate without recording occurrences or assignments")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runResolve(cmd *cobra.Command, rootOpts *RootOptions, opts *ResolveOptions, path string) error {
	out := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	attrs := model.Attributes{}
	var err error
	if attrs.User, err = parsePairs(opts.User); err != nil {
		return out.Fail(ExitCommandError, "flags", err)
	}
	if attrs.Device, err = parsePairs(opts.Device); err != nil {
		return out.Fail(ExitCommandError, "flags", err)
	}
	if attrs.Params, err = parsePairs(opts.Params); err != nil {
		return out.Fail(ExitCommandError, "flags", err)
	}

	svcOpts := []app.Option{
		app.WithLogger(logger.Nop()),
		app.WithTriggersFile(path, false),
	}
	if opts.Store != "" {
		out.VerboseLog("using store %s", opts.Store)
		svcOpts = append(svcOpts, app.WithStoreDriver(repository.DriverSQLite, opts.Store))
	}
	svc := app.New(svcOpts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := svc.Start(ctx); err != nil {
		return out.Fail(ExitCommandError, "start", err)
	}
	outcome := svc.Resolve(ctx, opts.Event, attrs, opts.DryRun)
	if err := svc.Stop(ctx); err != nil {
		out.VerboseLog("stop: %v", err)
	}

	result := ResolveResult{
		Outcome:     outcome.Kind.String(),
		ShowPaywall: outcome.ShowsPaywall(),
		Experiment:  outcome.Experiment,
		Unmatched:   outcome.Unmatched,
	}
	if outcome.Kind == model.OutcomeError && outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	if err := out.Success(result, func(w io.Writer) { printOutcome(w, result) }); err != nil {
		return err
	}
	if outcome.Kind == model.OutcomeError {
		return WrapExitError(ExitFailure, "resolve", outcome.Err)
	}
	return nil
}

func printOutcome(w io.Writer, r ResolveResult) {
	fmt.Fprintf(w, "outcome: %s\n", r.Outcome)
	if r.Experiment != nil {
		fmt.Fprintf(w, "experiment: %s\n", r.Experiment.ID)
		if r.Experiment.Variant.ID != "" {
			fmt.Fprintf(w, "variant: %s (%s)\n", r.Experiment.Variant.ID, r.Experiment.Variant.Type)
		}
	}
	for _, u := range r.Unmatched {
		fmt.Fprintf(w, "unmatched: %s (%s)\n", u.ExperimentID, u.Reason)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
}

// parsePairs turns key=value flags into attributes. Values are read as YAML
// scalars so that numbers and booleans keep their type.
func parsePairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q is not key=value", p)
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil || val == nil {
			val = v
		}
		m[k] = val
	}
	return m, nil
}
