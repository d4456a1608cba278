package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wavepipe.click/internal/audio"
	"wavepipe.click/internal/sink"
	"wavepipe.click/internal/sqfh"
)

// newPlayCommand creates the play subcommand
func newPlayCommand() *cobra.Command {
	playCmd := &cobra.Command{
		Use:   "play",
		Short: "Play a framed stream from stdin on the local output device",
		Long: `Play reads a framed stream from stdin and renders its PCM runs on the
default output device, reconfiguring the device whenever a header
announces a new format. The --output flag must match the packing the
producing side streamed with. DSD runs need DSD-capable hardware and
are refused.

Examples:
  wavepipe a.raw b.raw | wavepipe play
  wavepipe play < stream.bin`,
		RunE: runPlayE,
	}

	return playCmd
}

// runPlayE executes the play command
func runPlayE(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())

	sampleFormat, err := audio.SampleFormatForBits(cfg.OutputBits)
	if err != nil {
		return fmt.Errorf("configuring stream packing: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("monitoring stream", "bytes_per_frame", sampleFormat.BytesPerFrame())

	reader := sqfh.NewReader(cmd.InOrStdin(), sampleFormat.BytesPerFrame())
	monitor := sink.NewMonitor()

	pumpErr := sink.Pump(ctx, reader, monitor)
	if err := monitor.Close(); err != nil && pumpErr == nil {
		pumpErr = err
	}
	if pumpErr != nil {
		cmd.PrintErrf("Error: playback failed: %v\n", pumpErr)
		slog.Error("playback failed", "error", pumpErr)
		return fmt.Errorf("playback failed: %w", pumpErr)
	}

	return nil
}
