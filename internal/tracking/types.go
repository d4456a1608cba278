package tracking

import (
	"wavepipe.click/internal/sqfh"
)

// BoundaryHook is called by the output loop after each track boundary
// has been processed. hdr is the format header that was, or would have
// been, announced; emitted reports whether it actually went out on the
// wire. The hook owns acknowledging the boundary.
type BoundaryHook func(hdr sqfh.Header, emitted bool)

// BoundaryAcker clears the output loop's track-started flag once a
// boundary has been reported. Implemented by the shared audio buffer.
type BoundaryAcker interface {
	AckTrackStarted() bool
}
