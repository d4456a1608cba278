package tracking

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"

	"wavepipe.click/internal/sqfh"
)

// QueryFilter represents common query structure for all analyze commands
type QueryFilter struct {
	// Time filters (mutually exclusive)
	StartTime *time.Time // Start of time range (inclusive)
	EndTime   *time.Time // End of time range (exclusive)
	Days      int        // Convenience: last N days
	Since     string     // Natural-language start, e.g. "yesterday", "2 weeks ago"

	// Content filters
	SessionID string // Filter by specific session
	Encoding  string // Filter by stream encoding: pcm, dop, dsd_u32_le, dsd_u32_be

	// Output control
	Limit int // Maximum results
}

// ApplyTimeFilter converts QueryFilter time options to Unix timestamps.
// Priority order: Since > StartTime/EndTime > Days > no filter.
func (q *QueryFilter) ApplyTimeFilter(now time.Time) (startUnix, endUnix int64) {
	slog.Debug("applying time filter", "days", q.Days, "since", q.Since)

	endUnix = now.Unix()

	if q.Since != "" {
		start, err := ParseNaturalDate(q.Since, now)
		if err != nil {
			slog.Warn("invalid natural date, using no time filter", "since", q.Since, "error", err)
			return 0, endUnix
		}
		return start.Unix(), endUnix
	}

	// Use explicit start/end times if provided
	if q.StartTime != nil && q.EndTime != nil {
		return q.StartTime.Unix(), q.EndTime.Unix()
	}
	if q.StartTime != nil {
		return q.StartTime.Unix(), endUnix
	}
	if q.EndTime != nil {
		return 0, q.EndTime.Unix() // No lower bound, use provided end
	}

	// Use days filter
	if q.Days > 0 {
		startTime := now.AddDate(0, 0, -q.Days)
		return startTime.Unix(), endUnix
	}

	// No time filter - return no lower bound
	return 0, endUnix
}

// BuildWhereClause constructs a SQL WHERE clause and arguments against
// the track_events columns. Simple string building for predictability.
func (q *QueryFilter) BuildWhereClause() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	slog.Debug("building where clause", "session_id", q.SessionID, "encoding", q.Encoding)

	// Apply time filters
	if q.StartTime != nil || q.EndTime != nil || q.Days > 0 || q.Since != "" {
		startUnix, endUnix := q.ApplyTimeFilter(time.Now())

		if startUnix > 0 {
			clauses = append(clauses, "timestamp >= ?")
			args = append(args, startUnix)
		}

		clauses = append(clauses, "timestamp <= ?")
		args = append(args, endUnix)
	}

	// Session filter
	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}

	// Encoding filter
	if q.Encoding != "" {
		code, err := EncodingCode(q.Encoding)
		if err != nil {
			slog.Warn("unknown encoding filter, ignoring", "encoding", q.Encoding)
		} else {
			clauses = append(clauses, "dsd_format = ?")
			args = append(args, code)
		}
	}

	whereClause := ""
	if len(clauses) > 0 {
		whereClause = strings.Join(clauses, " AND ")
	}

	slog.Debug("built where clause", "clause", whereClause, "arg_count", len(args))

	return whereClause, args
}

// ParseNaturalDate parses natural language dates using go-naturaldate,
// anchored at now and looking backwards.
func ParseNaturalDate(naturalDate string, now time.Time) (time.Time, error) {
	slog.Debug("parsing natural language date", "input", naturalDate)

	result, err := naturaldate.Parse(naturalDate, now)
	if err != nil {
		slog.Warn("failed to parse natural language date", "input", naturalDate, "error", err)
		return time.Time{}, fmt.Errorf("failed to parse natural date '%s': %w", naturalDate, err)
	}

	slog.Debug("parsed natural language date", "input", naturalDate, "result", result)
	return result, nil
}

// EncodingCode maps an encoding name to its wire code in track_events.
func EncodingCode(name string) (int, error) {
	switch name {
	case "pcm":
		return int(sqfh.EncodingPCM), nil
	case "dop":
		return int(sqfh.EncodingDoP), nil
	case "dsd_u32_le":
		return int(sqfh.EncodingDSDU32LE), nil
	case "dsd_u32_be":
		return int(sqfh.EncodingDSDU32BE), nil
	default:
		return 0, fmt.Errorf("unknown encoding name: %s", name)
	}
}
