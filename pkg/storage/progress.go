package storage

import (
	"errors"
	"io"
)

///////////////////////////////////////////////////////////////////////////////
// CONSTANTS

// progressChunk is the number of bytes read between successive progress
// emissions while a source is consumed.
const progressChunk int64 = 64 * 1024 // 64 KiB

// errStopped is returned from Read once the consumer of a progress sequence
// has stopped iterating.
var errStopped = errors.New("progress consumer stopped")

///////////////////////////////////////////////////////////////////////////////
// TYPES

// progressReader wraps an io.Reader and calls emit after every progressChunk
// bytes have been read. It does not emit on EOF, the caller emits the final
// event once the transfer has been committed. Reads fail with errStopped
// after emit returns false.
type progressReader struct {
	r       io.Reader
	read    int64
	emitted int64
	total   int64 // declared size, 0 if unknown
	emit    func(read, total int64) bool
	stopped bool
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newProgressReader(r io.Reader, total int64, emit func(read, total int64) bool) *progressReader {
	return &progressReader{r: r, total: total, emit: emit}
}

///////////////////////////////////////////////////////////////////////////////
// io.Reader

func (p *progressReader) Read(buf []byte) (int, error) {
	if p.stopped {
		return 0, errStopped
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		for p.read-p.emitted >= progressChunk {
			p.emitted += progressChunk
			if !p.emit(p.emitted, p.total) {
				p.stopped = true
				return n, errStopped
			}
		}
	}
	return n, err
}
