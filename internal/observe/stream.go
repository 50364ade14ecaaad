package observe

// Iterator is a restartable, rows-style cursor over observation records.
// Implementations deliver records in non-decreasing time order per region.
// The inference engine consumes one record per Next/Record pair, so a
// file-backed implementation can stay lazy.
type Iterator interface {
	// Next advances the cursor and reports whether a record is available.
	Next() bool
	// Record returns the record at the cursor. Only valid after Next
	// returned true.
	Record() Record
	// Reset rewinds the cursor to the beginning.
	Reset()
	// Err returns the first error encountered while iterating, if any.
	Err() error
}

// Stream is the in-memory Iterator over a fixed slice of records.
type Stream struct {
	records []Record
	pos     int
}

// NewStream wraps records in a Stream. The slice is not copied; callers must
// not mutate it while iterating.
func NewStream(records []Record) *Stream {
	return &Stream{records: records}
}

// Next advances to the next record.
func (s *Stream) Next() bool {
	if s.pos >= len(s.records) {
		return false
	}
	s.pos++
	return true
}

// Record returns the current record.
func (s *Stream) Record() Record {
	return s.records[s.pos-1]
}

// Reset rewinds the stream to the first record.
func (s *Stream) Reset() { s.pos = 0 }

// Err always returns nil for the in-memory stream.
func (s *Stream) Err() error { return nil }

// Len returns the total number of records in the stream.
func (s *Stream) Len() int { return len(s.records) }
