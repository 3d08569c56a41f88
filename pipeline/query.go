package pipeline

import (
	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

// QueryType identifies a query.
type QueryType int

const (
	QueryPosition QueryType = iota + 1
	QueryDuration
	QuerySeeking
	QueryCaps
	QueryAcceptCaps
)

func (t QueryType) String() string {
	switch t {
	case QueryPosition:
		return "position"
	case QueryDuration:
		return "duration"
	case QuerySeeking:
		return "seeking"
	case QueryCaps:
		return "caps"
	case QueryAcceptCaps:
		return "accept-caps"
	default:
		return "unknown"
	}
}

// IsDataQuery reports whether the query asks about the stream (position,
// duration, seeking) rather than formats.
func (t QueryType) IsDataQuery() bool {
	return t == QueryPosition || t == QueryDuration || t == QuerySeeking
}

// Query asks the graph a question. Queries travel against the data flow to
// the element able to answer. Only fields belonging to Type are used.
type Query struct {
	Type   QueryType
	Format media.Format

	// Position or duration; -1 when unknown.
	Value int64

	Seekable  bool
	SeekStart int64
	SeekEnd   int64

	// Caps queries: Filter restricts the answer, Result holds it.
	Filter *caps.Caps
	Result *caps.Caps

	// Accept-caps queries.
	Caps     *caps.Caps
	Accepted bool
}

// NewPositionQuery asks for the current playback position.
func NewPositionQuery(format media.Format) *Query {
	return &Query{Type: QueryPosition, Format: format, Value: -1}
}

// NewDurationQuery asks for the total stream length.
func NewDurationQuery(format media.Format) *Query {
	return &Query{Type: QueryDuration, Format: format, Value: -1}
}

// NewSeekingQuery asks whether and where seeking is possible.
func NewSeekingQuery(format media.Format) *Query {
	return &Query{Type: QuerySeeking, Format: format, SeekStart: -1, SeekEnd: -1}
}

// NewCapsQuery asks which formats a pad can handle, restricted to filter
// when it is non-nil.
func NewCapsQuery(filter *caps.Caps) *Query {
	return &Query{Type: QueryCaps, Filter: filter}
}

// NewAcceptCapsQuery asks whether a pad accepts a fixed format.
func NewAcceptCapsQuery(c *caps.Caps) *Query {
	return &Query{Type: QueryAcceptCaps, Caps: c}
}

// SetCapsResult stores the answer of a caps query, applying the filter.
func (q *Query) SetCapsResult(c *caps.Caps) {
	if q.Filter != nil {
		c = q.Filter.Intersect(c)
	}
	q.Result = c
}
