package channel

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Batch implements Channel over a single HTTP request/response pair: the
// inbound frames are the newline-delimited lines of the request body, and
// outbound frames accumulate in memory to be flushed as the response body
// once the session has processed the batch (spec §1's "HTTP batch
// endpoint", used when a peer has no need to hold a connection open between
// calls).
type Batch struct {
	in  [][]byte
	pos int
	out [][]byte
}

// NewBatch parses body into a Channel whose Recv calls yield the frames
// already present in the request, and whose Send calls are buffered for
// later retrieval via Written.
func NewBatch(body io.Reader) (*Batch, error) {
	b := &Batch{}
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		b.in = append(b.in, cp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("capnweb: reading batch body: %w", err)
	}
	return b, nil
}

func (b *Batch) Send(data []byte) error {
	b.out = append(b.out, append([]byte(nil), data...))
	return nil
}

func (b *Batch) Recv() ([]byte, error) {
	if b.pos >= len(b.in) {
		return nil, io.EOF
	}
	f := b.in[b.pos]
	b.pos++
	return f, nil
}

func (b *Batch) Close() error { return nil }

// Written returns the accumulated outbound frames, one per line, ready to
// be written as an HTTP response body.
func (b *Batch) Written() []byte {
	var buf bytes.Buffer
	for _, f := range b.out {
		buf.Write(f)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
