// Package sink contains consumers for the framed output stream: a WAV
// archiver that splits the stream into one file per format run, and a
// monitor that plays PCM runs on the local output device. Sinks are fed
// by Pump, which demultiplexes the stream with sqfh.Reader.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"wavepipe.click/internal/sqfh"
)

// Package-level errors shared by the stream sinks
var (
	ErrUnsupportedRun = errors.New("stream run encoding not supported by this sink")
	ErrSinkClosed     = errors.New("sink is closed")
	ErrNoRun          = errors.New("write before the first run header")
)

// RunSink consumes a demultiplexed stream one format run at a time.
// StartRun opens a run with its header, Write receives that run's
// payload, and Close ends the final run. The caller owns Close.
type RunSink interface {
	StartRun(hdr sqfh.Header) error
	io.Writer
	io.Closer
}

// Pump drives s from the demultiplexed stream r until the stream ends,
// the context is canceled, or the sink refuses a run.
func Pump(ctx context.Context, r *sqfh.Reader, s RunSink) error {
	buf := make([]byte, 32*1024)
	runs := 0
	for {
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			slog.Info("stream ended", "runs", runs)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream header: %w", err)
		}
		runs++
		slog.Debug("stream run started",
			"run", runs,
			"sample_rate", hdr.SampleRate,
			"bit_depth", hdr.BitDepth,
			"encoding", hdr.Encoding.String())
		if err := s.StartRun(hdr); err != nil {
			return fmt.Errorf("starting run %d: %w", runs, err)
		}
		if err := copyRun(ctx, s, r, buf); err != nil {
			return err
		}
	}
}

// copyRun moves one run's payload into the sink. The reader reports
// io.EOF when the run ends, at the next header or at stream end.
func copyRun(ctx context.Context, dst io.Writer, r io.Reader, buf []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing run payload: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading run payload: %w", err)
		}
	}
}
