package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"wavepipe.click/internal/audio"
	"wavepipe.click/internal/sink"
	"wavepipe.click/internal/sqfh"
)

// newRecordCommand creates the record subcommand
func newRecordCommand() *cobra.Command {
	var outPrefix string

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Archive a framed stream from stdin as WAV files",
		Long: `Record reads a framed stream from stdin and writes one WAV file per
format run: <prefix>-000.wav, <prefix>-001.wav and so on, starting a
new file whenever a header announces a different format. The --output
flag must match the packing the producing side streamed with. DSD runs
have no WAV representation and abort the recording.

Examples:
  wavepipe a.raw b.raw | wavepipe record --out-prefix take
  wavepipe record --out-prefix ambient < stream.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, outPrefix)
		},
	}

	recordCmd.Flags().StringVar(&outPrefix, "out-prefix", "wavepipe", "Output file name prefix")

	return recordCmd
}

// runRecord executes the record command
func runRecord(cmd *cobra.Command, outPrefix string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())

	// Frame size is fixed per stream and not carried in the headers,
	// so the reader gets it from the configured packing.
	sampleFormat, err := audio.SampleFormatForBits(cfg.OutputBits)
	if err != nil {
		return fmt.Errorf("configuring stream packing: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("recording stream", "out_prefix", outPrefix, "bytes_per_frame", sampleFormat.BytesPerFrame())

	reader := sqfh.NewReader(cmd.InOrStdin(), sampleFormat.BytesPerFrame())
	wavSink := sink.NewWavSink(afero.NewOsFs(), outPrefix)

	pumpErr := sink.Pump(ctx, reader, wavSink)
	if err := wavSink.Close(); err != nil && pumpErr == nil {
		pumpErr = err
	}
	if pumpErr != nil {
		cmd.PrintErrf("Error: recording failed: %v\n", pumpErr)
		slog.Error("recording failed", "error", pumpErr)
		return fmt.Errorf("recording failed: %w", pumpErr)
	}

	cmd.Printf("Recorded %d format runs with prefix %s\n", wavSink.Runs(), outPrefix)
	return nil
}
