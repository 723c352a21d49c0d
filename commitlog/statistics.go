package commitlog

import (
	"os"
	"strings"
)

type Statistics struct {
	SegmentCount  uint64
	CurrentOffset uint64
	StoredBytes   uint64
}

func (c *commitLog) GetStatistics() Statistics {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var size int64
	files, err := os.ReadDir(c.datadir)
	if err == nil {
		for _, file := range files {
			if !strings.HasSuffix(file.Name(), ".log") {
				continue
			}
			if info, err := file.Info(); err == nil {
				size += info.Size()
			}
		}
	}
	stats := Statistics{
		SegmentCount: uint64(len(c.segments)),
		StoredBytes:  uint64(size),
	}
	if c.activeSegment != nil {
		stats.CurrentOffset = c.activeSegment.CurrentOffset() + c.activeSegment.BaseOffset()
	}
	return stats
}
