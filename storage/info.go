package storage

import (
	"github.com/vx-labs/recstore/record"
)

type streamInfoReader struct {
	info    StreamInfo
	session record.SessionInfo
	taken   bool
}

// NewStreamInfoReader returns a StreamInfoReader yielding info once per reset.
func NewStreamInfoReader(info StreamInfo, session record.SessionInfo) StreamInfoReader {
	return &streamInfoReader{info: info, session: session}
}

func (s *streamInfoReader) Read() []StreamInfo {
	if s.taken {
		return nil
	}
	s.taken = true
	return []StreamInfo{s.info}
}

func (s *streamInfoReader) ReturnLoan([]StreamInfo) {}
func (s *streamInfoReader) Finished() bool         { return s.taken }
func (s *streamInfoReader) Reset()                 { s.taken = false }

func (s *streamInfoReader) ServiceStartTime() (int64, error) {
	return s.session.Start, nil
}

func (s *streamInfoReader) ServiceStopTime() (int64, error) {
	if !s.session.HasEnd {
		return 0, Formatf("session has no end timestamp")
	}
	return s.session.End, nil
}
