package tracking

import (
	"database/sql"
	"log/slog"
	"time"

	"wavepipe.click/internal/sqfh"
)

// Recorder implements database logging of track boundaries. It is wired
// into the output loop as its boundary hook: every boundary is recorded,
// whether or not a header was written, and then acknowledged so the loop
// can latch the next one. A database failure disables recording for the
// rest of the session; the stream itself is never affected.
type Recorder struct {
	db        *sql.DB
	acker     BoundaryAcker
	sessionID string
	seq       int
	disabled  bool
}

// NewRecorder creates a boundary recorder for the given session.
func NewRecorder(db *sql.DB, acker BoundaryAcker, sessionID string) *Recorder {
	return &Recorder{
		db:        db,
		acker:     acker,
		sessionID: sessionID,
	}
}

// StartSession inserts the session row the track events hang off.
// Failures disable recording.
func (r *Recorder) StartSession(source string, bitDepth, rateHint int) {
	if r.disabled {
		return
	}
	_, err := r.db.Exec(`
		INSERT INTO stream_sessions (id, started_at, source, bit_depth, rate_hint)
		VALUES (?, ?, ?, ?, ?)`,
		r.sessionID,
		time.Now().Unix(),
		source,
		bitDepth,
		rateHint)
	if err != nil {
		slog.Warn("stream tracking failed to create session", "error", err, "session_id", r.sessionID)
		r.disabled = true
		return
	}
	slog.Debug("stream tracking session started",
		"session_id", r.sessionID,
		"source", source,
		"bit_depth", bitDepth,
		"rate_hint", rateHint)
}

// OnBoundary records one processed track boundary and acknowledges it.
// The acknowledgment happens first so a database failure can never stall
// the stream.
func (r *Recorder) OnBoundary(hdr sqfh.Header, emitted bool) {
	if r.acker != nil {
		r.acker.AckTrackStarted()
	}
	if r.disabled {
		return
	}

	r.seq++
	headerEmitted := 0
	if emitted {
		headerEmitted = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO track_events (session_id, seq, timestamp, sample_rate, bit_depth, dsd_format, header_emitted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID,
		r.seq,
		time.Now().Unix(),
		hdr.SampleRate,
		hdr.BitDepth,
		int(hdr.Encoding),
		headerEmitted)
	if err != nil {
		slog.Warn("stream tracking failed to record track", "error", err, "session_id", r.sessionID, "seq", r.seq)
		r.disabled = true
		return
	}

	slog.Debug("stream tracking recorded track",
		"session_id", r.sessionID,
		"seq", r.seq,
		"format", hdr.String(),
		"header_emitted", emitted)
}

// GetHook returns the BoundaryHook function for wiring into the output
// loop configuration.
func (r *Recorder) GetHook() BoundaryHook {
	return r.OnBoundary
}
