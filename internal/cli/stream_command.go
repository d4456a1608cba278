package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wavepipe.click/internal/audio"
	"wavepipe.click/internal/config"
	"wavepipe.click/internal/tracking"
)

// defaultInputBits is the sample width assumed for track arguments that
// do not state one. 32-bit words are the pipeline's native width, so a
// default-format session passes bytes through unchanged and DSD track
// specs need no explicit bits field.
const defaultInputBits = 32

// runStreamE is the root command: stream the given tracks to stdout.
func runStreamE(cmd *cobra.Command, args []string) error {
	// Extract CLI instance from context
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	// Handle version flag first
	handled, err := handleVersionFlag(cmd)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	// Load and validate configuration
	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}

	// Setup logging with file logging support
	setupLogging(cfg, cmd.ErrOrStderr())

	if len(args) == 0 {
		cmd.PrintErrln("Error: no tracks given, see --help for the track syntax")
		slog.Error("stream invoked without tracks")
		return fmt.Errorf("no tracks given")
	}

	tracks, err := parseTracks(args, cfg)
	if err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		slog.Error("track argument rejected", "error", err)
		return err
	}

	// Stdout carries the binary stream; a terminal would render it as
	// garbage, so refuse unless explicitly forced.
	force, _ := cmd.Flags().GetBool("force")
	if !force && cmd.OutOrStdout() == os.Stdout && cli.isInteractiveTerminal(int(os.Stdout.Fd())) {
		cmd.PrintErrln("Error: stdout is a terminal; redirect it to a pipe or file, or pass --force")
		slog.Error("refusing to stream to an interactive terminal")
		return fmt.Errorf("stdout is a terminal")
	}

	// Open track history after logging so failures are reported
	cli.initializeTracking(cfg)

	return cli.runStream(cmd, cfg, tracks, strings.Join(args, " "))
}

// parseTracks expands the command arguments into track descriptions,
// defaulting the rate to the configured hint.
func parseTracks(args []string, cfg *config.Config) ([]audio.Track, error) {
	tracks := make([]audio.Track, 0, len(args))
	for _, arg := range args {
		t, err := audio.ParseTrack(arg, cfg.RateHint, defaultInputBits)
		if err != nil {
			return nil, fmt.Errorf("track %q: %w", arg, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// runStream builds the pipeline and blocks until the track list has
// played out, the output channel fails, or a signal arrives.
func (c *CLI) runStream(cmd *cobra.Command, cfg *config.Config, tracks []audio.Track, source string) error {
	slog.Info("stream starting",
		"tracks", len(tracks),
		"output_bits", cfg.OutputBits,
		"rate_hint", cfg.RateHint,
		"buffer_frames", cfg.BufferFrames,
		"dsd_capable", cfg.DSDCapable)

	buf, err := audio.NewBuffer(cfg.BufferFrames)
	if err != nil {
		return fmt.Errorf("allocating stream buffer: %w", err)
	}

	sampleFormat, err := audio.SampleFormatForBits(cfg.OutputBits)
	if err != nil {
		return fmt.Errorf("configuring output packing: %w", err)
	}
	if err := buf.SetSampleFormat(sampleFormat); err != nil {
		return err
	}
	if err := buf.SetRateHint(cfg.RateHint); err != nil {
		return err
	}
	if err := buf.SetDSDEnabled(cfg.DSDCapable); err != nil {
		return err
	}
	if err := buf.SetRateDelay(time.Duration(cfg.SettleMs) * time.Millisecond); err != nil {
		return err
	}

	// bufio batches header and audio writes; the writer flushes after
	// every block so latency stays bounded.
	out := bufio.NewWriter(cmd.OutOrStdout())

	writer := audio.NewWriter(buf, out, audio.WriterConfig{
		BlockFrames: cfg.BlockFrames,
		IdleSleep:   time.Duration(cfg.IdleSleepMs) * time.Millisecond,
		OnBoundary:  c.boundaryHook(cfg, buf, source),
	})
	if err := writer.Start(); err != nil {
		return fmt.Errorf("starting output loop: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fileSource := audio.NewFileSource(buf, tracks)
	fileSource.Stdin = cmd.InOrStdin()
	fileSource.ChunkFrames = cfg.BlockFrames

	feedErr := make(chan error, 1)
	go func() { feedErr <- fileSource.Run(ctx) }()

	loopErr := make(chan error, 1)
	go func() { loopErr <- writer.Wait() }()

	var streamErr error
	select {
	case err := <-feedErr:
		// Producer finished or failed. Either way it marked the buffer
		// drained, so the loop plays out the remainder and exits.
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("track ingest failed", "error", err)
			streamErr = err
		}
		if err := <-loopErr; err != nil && streamErr == nil {
			streamErr = err
		}

	case err := <-loopErr:
		// Output channel failed while tracks were still feeding.
		cancel()
		<-feedErr
		streamErr = err

	case <-ctx.Done():
		// Signal: stop the loop without playing out the queue, then
		// collect the producer.
		slog.Info("signal received, stopping stream")
		streamErr = writer.Stop()
		<-feedErr
		<-loopErr
	}

	if streamErr != nil {
		cmd.PrintErrf("Error: stream failed: %v\n", streamErr)
		return fmt.Errorf("stream failed: %w", streamErr)
	}

	status := buf.Status()
	slog.Info("stream finished", "frames_played", status.FramesPlayed)
	return nil
}

// boundaryHook returns the output loop's boundary callback: the
// database recorder when track history is on, otherwise a logging hook.
// Both acknowledge boundaries, so the loop never stalls on a dead hook.
func (c *CLI) boundaryHook(cfg *config.Config, buf *audio.Buffer, source string) tracking.BoundaryHook {
	if c.trackingDB != nil {
		sessionID := uuid.New().String()
		recorder := tracking.NewRecorder(c.trackingDB, buf, sessionID)
		recorder.StartSession(source, cfg.OutputBits, cfg.RateHint)
		slog.Debug("track history recorder attached", "session_id", sessionID)
		return recorder.GetHook()
	}
	return tracking.NewSlogHook(buf, slog.Default()).GetHook()
}
