package tracking

import (
	"database/sql"
	"fmt"
	"time"

	"wavepipe.click/internal/sqfh"
)

// TrackEvent is one recorded track boundary.
type TrackEvent struct {
	SessionID     string `json:"session_id"`
	Seq           int    `json:"seq"`
	Timestamp     int64  `json:"timestamp"` // Unix timestamp
	SampleRate    int    `json:"sample_rate"`
	BitDepth      int    `json:"bit_depth"`
	Encoding      string `json:"encoding"`
	HeaderEmitted bool   `json:"header_emitted"`
}

// FormatCount aggregates track boundaries per stream format.
type FormatCount struct {
	SampleRate     int    `json:"sample_rate"`
	BitDepth       int    `json:"bit_depth"`
	Encoding       string `json:"encoding"`
	Tracks         int    `json:"tracks"`
	HeadersEmitted int    `json:"headers_emitted"`
	LastSeen       int64  `json:"last_seen"` // Unix timestamp
}

// SessionInfo is one stream session with its track totals.
type SessionInfo struct {
	ID            string `json:"id"`
	StartedAt     int64  `json:"started_at"` // Unix timestamp
	Source        string `json:"source"`
	BitDepth      int    `json:"bit_depth"`
	RateHint      int    `json:"rate_hint"`
	Tracks        int    `json:"tracks"`
	FormatChanges int    `json:"format_changes"` // boundaries that wrote a header
}

// GetRecentTracks returns recorded track boundaries, newest first.
func GetRecentTracks(db *sql.DB, filter QueryFilter) ([]TrackEvent, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	baseQuery := `
		SELECT
			session_id,
			seq,
			timestamp,
			sample_rate,
			bit_depth,
			dsd_format,
			header_emitted
		FROM track_events`

	whereClause, args := filter.BuildWhereClause()
	if whereClause != "" {
		baseQuery += " WHERE " + whereClause
	}

	baseQuery += `
		ORDER BY timestamp DESC, seq DESC`

	if filter.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent tracks: %w", err)
	}
	defer rows.Close()

	var results []TrackEvent
	for rows.Next() {
		var event TrackEvent
		var dsdFormat int
		var emitted int

		err := rows.Scan(&event.SessionID, &event.Seq, &event.Timestamp,
			&event.SampleRate, &event.BitDepth, &dsdFormat, &emitted)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track event row: %w", err)
		}

		event.Encoding = sqfh.Encoding(dsdFormat).String()
		event.HeaderEmitted = emitted != 0
		results = append(results, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track event rows: %w", err)
	}

	return results, nil
}

// GetFormatCounts returns per-format track totals, most used first.
func GetFormatCounts(db *sql.DB, filter QueryFilter) ([]FormatCount, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	baseQuery := `
		SELECT
			sample_rate,
			bit_depth,
			dsd_format,
			COUNT(*) as tracks,
			SUM(header_emitted) as headers_emitted,
			MAX(timestamp) as last_seen
		FROM track_events`

	whereClause, args := filter.BuildWhereClause()
	if whereClause != "" {
		baseQuery += " WHERE " + whereClause
	}

	baseQuery += `
		GROUP BY sample_rate, bit_depth, dsd_format
		ORDER BY tracks DESC`

	if filter.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query format counts: %w", err)
	}
	defer rows.Close()

	var results []FormatCount
	for rows.Next() {
		var count FormatCount
		var dsdFormat int

		err := rows.Scan(&count.SampleRate, &count.BitDepth, &dsdFormat,
			&count.Tracks, &count.HeadersEmitted, &count.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan format count row: %w", err)
		}

		count.Encoding = sqfh.Encoding(dsdFormat).String()
		results = append(results, count)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating format count rows: %w", err)
	}

	return results, nil
}

// GetSessions returns stream sessions with their track totals, newest
// first. The time filter applies to the session start.
func GetSessions(db *sql.DB, filter QueryFilter) ([]SessionInfo, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	startUnix, endUnix := filter.ApplyTimeFilter(time.Now())

	query := `
		SELECT
			s.id,
			s.started_at,
			s.source,
			s.bit_depth,
			s.rate_hint,
			COUNT(te.id) as tracks,
			COALESCE(SUM(te.header_emitted), 0) as format_changes
		FROM stream_sessions s
		LEFT JOIN track_events te ON te.session_id = s.id
		WHERE s.started_at <= ?`
	args := []interface{}{endUnix}

	if startUnix > 0 {
		query += " AND s.started_at >= ?"
		args = append(args, startUnix)
	}
	if filter.SessionID != "" {
		query += " AND s.id = ?"
		args = append(args, filter.SessionID)
	}

	query += `
		GROUP BY s.id
		ORDER BY s.started_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionInfo
	for rows.Next() {
		var session SessionInfo

		err := rows.Scan(&session.ID, &session.StartedAt, &session.Source,
			&session.BitDepth, &session.RateHint, &session.Tracks, &session.FormatChanges)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		results = append(results, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return results, nil
}
