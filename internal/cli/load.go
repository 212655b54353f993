package cli

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/tripwire/internal/loadgen"
	"github.com/okian/tripwire/pkg/logger"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := &loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Send generated resolve requests to a running server",
		Long: `Send concurrent resolve requests with generated attributes to a running
server, tally the outcomes and fail if any experiment was answered with more
than one variant.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, rootOpts, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	cmd.Flags().StringVar(&cfg.Event, "event", "", "event name (required)")
	cmd.Flags().IntVar(&cfg.Requests, "requests", 1000, "number of requests to send")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*2, "number of concurrent workers")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "HTTP request timeout")
	cmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "ask the service not to record anything")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func runLoad(cmd *cobra.Command, rootOpts *RootOptions, cfg *loadgen.Config) error {
	out := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}
	cfg.Verbose = rootOpts.Verbose

	log := logger.Nop()
	if rootOpts.Verbose {
		log = logger.Get().Named("loadgen")
	}
	report, err := loadgen.Run(cmd.Context(), cfg, log)
	if err != nil && len(report.Conflicts) == 0 {
		return out.Fail(ExitCommandError, "load", err)
	}
	if werr := out.Success(report, func(w io.Writer) { printReport(w, report) }); werr != nil {
		return werr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "load", err)
	}
	return nil
}

func printReport(w io.Writer, r loadgen.Report) {
	fmt.Fprintf(w, "sent: %d failed: %d in %s\n", r.Sent, r.Failed, r.Duration.Round(time.Millisecond))
	kinds := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, r.Outcomes[k])
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "conflict: %s\n", c)
	}
}
