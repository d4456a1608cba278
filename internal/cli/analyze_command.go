package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"wavepipe.click/internal/tracking"
)

// analyzeOptions carries the analyze command's flag values.
type analyzeOptions struct {
	days      int
	since     string
	limit     int
	sessionID string
	encoding  string
	sessions  bool
	formats   bool
}

// newAnalyzeCommand creates the analyze subcommand
func newAnalyzeCommand() *cobra.Command {
	var opts analyzeOptions

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Inspect the track history database",
		Long: `Analyze queries the track history database that the streaming run
fills: every track boundary is recorded with its format and whether a
header went out on the wire.

The default view lists recent track boundaries, newest first.
--sessions summarizes streaming sessions instead, and --formats
aggregates boundaries per stream format.

Examples:
  wavepipe analyze                         # recent track boundaries
  wavepipe analyze --days 30               # last 30 days
  wavepipe analyze --since "2 weeks ago"   # natural-language window
  wavepipe analyze --encoding dop          # DoP boundaries only
  wavepipe analyze --sessions              # session summaries
  wavepipe analyze --formats --days 0      # all-time format usage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	analyzeCmd.Flags().IntVar(&opts.days, "days", 7, "Number of days to include (0 = all time)")
	analyzeCmd.Flags().StringVar(&opts.since, "since", "", "Natural-language start time (\"yesterday\", \"3 days ago\")")
	analyzeCmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of rows to show")
	analyzeCmd.Flags().StringVar(&opts.sessionID, "session", "", "Filter by session id")
	analyzeCmd.Flags().StringVar(&opts.encoding, "encoding", "", "Filter by encoding (pcm, dop, dsd_u32_le, dsd_u32_be)")
	analyzeCmd.Flags().BoolVar(&opts.sessions, "sessions", false, "Summarize sessions instead of listing boundaries")
	analyzeCmd.Flags().BoolVar(&opts.formats, "formats", false, "Aggregate boundaries per format instead of listing them")

	return analyzeCmd
}

// runAnalyze executes the analyze command
func runAnalyze(cmd *cobra.Command, opts analyzeOptions) error {
	slog.Debug("running analyze command",
		"days", opts.days,
		"since", opts.since,
		"limit", opts.limit,
		"session", opts.sessionID,
		"encoding", opts.encoding,
		"sessions", opts.sessions,
		"formats", opts.formats)

	cli := cliFromContext(cmd.Context())
	if cli == nil {
		return fmt.Errorf("CLI instance not found in context")
	}

	if opts.sessions && opts.formats {
		return fmt.Errorf("--sessions and --formats are mutually exclusive")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())

	// Ensure the track history database is available
	cli.initializeTracking(cfg)
	if cli.trackingDB == nil {
		return fmt.Errorf("track history is not enabled or the database is not available")
	}

	filter := tracking.QueryFilter{
		Days:      opts.days,
		Since:     opts.since,
		SessionID: opts.sessionID,
		Encoding:  opts.encoding,
		Limit:     opts.limit,
	}

	switch {
	case opts.sessions:
		sessions, err := tracking.GetSessions(cli.trackingDB, filter)
		if err != nil {
			slog.Error("failed to query sessions", "error", err)
			return fmt.Errorf("failed to analyze sessions: %w", err)
		}
		return outputSessions(cmd.OutOrStdout(), sessions, filter)

	case opts.formats:
		counts, err := tracking.GetFormatCounts(cli.trackingDB, filter)
		if err != nil {
			slog.Error("failed to query format counts", "error", err)
			return fmt.Errorf("failed to analyze formats: %w", err)
		}
		return outputFormatCounts(cmd.OutOrStdout(), counts, filter)

	default:
		tracks, err := tracking.GetRecentTracks(cli.trackingDB, filter)
		if err != nil {
			slog.Error("failed to query track boundaries", "error", err)
			return fmt.Errorf("failed to analyze tracks: %w", err)
		}
		return outputRecentTracks(cmd.OutOrStdout(), tracks, filter)
	}
}

// timeContext describes the window a filter selects, for headings.
func timeContext(filter tracking.QueryFilter) string {
	switch {
	case filter.Since != "":
		return fmt.Sprintf("since %s", filter.Since)
	case filter.Days > 0:
		return fmt.Sprintf("last %d days", filter.Days)
	default:
		return "all time"
	}
}

// formatLabel renders a (rate, depth, encoding) triple for the text views.
func formatLabel(sampleRate, bitDepth int, encoding string) string {
	if encoding == "pcm" {
		return fmt.Sprintf("%d Hz / %d-bit pcm", sampleRate, bitDepth)
	}
	return fmt.Sprintf("%d Hz / %s", sampleRate, encoding)
}

// shortSession abbreviates a session id for column display.
func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatUnixTime(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// outputRecentTracks displays recorded track boundaries, newest first
func outputRecentTracks(w io.Writer, tracks []tracking.TrackEvent, filter tracking.QueryFilter) error {
	if len(tracks) == 0 {
		fmt.Fprintf(w, "No track boundaries recorded (%s).\n", timeContext(filter))
		fmt.Fprintln(w, "\nThis means either:")
		fmt.Fprintln(w, "  • Nothing has been streamed in this window")
		fmt.Fprintln(w, "  • Track history is disabled (--silent or config)")
		return nil
	}

	fmt.Fprintf(w, "Track boundaries (%s):\n\n", timeContext(filter))

	for _, t := range tracks {
		marker := " "
		if t.HeaderEmitted {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s  %s #%-3d %-32s %s\n",
			formatUnixTime(t.Timestamp),
			shortSession(t.SessionID),
			t.Seq,
			formatLabel(t.SampleRate, t.BitDepth, t.Encoding),
			marker)
	}

	fmt.Fprintf(w, "\n%d boundaries shown, * = format header went out on the wire\n", len(tracks))
	return nil
}

// outputFormatCounts displays aggregated boundary counts per format
func outputFormatCounts(w io.Writer, counts []tracking.FormatCount, filter tracking.QueryFilter) error {
	if len(counts) == 0 {
		fmt.Fprintf(w, "No track boundaries recorded (%s).\n", timeContext(filter))
		return nil
	}

	fmt.Fprintf(w, "Format usage (%s):\n\n", timeContext(filter))

	totalTracks := 0
	totalHeaders := 0
	for _, c := range counts {
		fmt.Fprintf(w, "  %-32s %4d tracks  %4d headers   last seen %s\n",
			formatLabel(c.SampleRate, c.BitDepth, c.Encoding),
			c.Tracks,
			c.HeadersEmitted,
			formatUnixTime(c.LastSeen))
		totalTracks += c.Tracks
		totalHeaders += c.HeadersEmitted
	}

	fmt.Fprintf(w, "\n%d formats, %d tracks, %d headers emitted\n", len(counts), totalTracks, totalHeaders)
	return nil
}

// outputSessions displays streaming session summaries, newest first
func outputSessions(w io.Writer, sessions []tracking.SessionInfo, filter tracking.QueryFilter) error {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No streaming sessions recorded (%s).\n", timeContext(filter))
		return nil
	}

	fmt.Fprintf(w, "Streaming sessions (%s):\n\n", timeContext(filter))

	for _, s := range sessions {
		// Long track lists make poor columns, keep the tail
		source := s.Source
		if len(source) > 48 {
			source = "..." + source[len(source)-45:]
		}
		fmt.Fprintf(w, "  %s  %s  %3d tracks  %3d format changes  %d-bit @ %d Hz\n",
			shortSession(s.ID),
			formatUnixTime(s.StartedAt),
			s.Tracks,
			s.FormatChanges,
			s.BitDepth,
			s.RateHint)
		fmt.Fprintf(w, "            %s\n", source)
	}

	fmt.Fprintf(w, "\n%d sessions shown\n", len(sessions))
	return nil
}
