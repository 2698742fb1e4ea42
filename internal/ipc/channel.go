package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mmp/ecpb/internal/containers"
	"github.com/mmp/ecpb/internal/model"
)

// Channel is the parent<->child progress message channel: a spawned
// worker's stdout pipe, newline-delimited JSON, drained into a bounded
// ring buffer on the reader side so a chatty child can't grow the parent's
// memory without limit: dropping the oldest progress message under
// backpressure is tolerable, losing the pipe entirely is not.
type Channel struct {
	writer *os.File
	encoder *json.Encoder
	buffer  *containers.RingBuffer
}

// NewWriterChannel wraps w (typically a child's stdout) for sending
// messages.
func NewWriterChannel(w *os.File) *Channel {
	return &Channel{writer: w, encoder: json.NewEncoder(w)}
}

// Send encodes msg as a single line of JSON.
func (c *Channel) Send(msg any) error {
	if err := c.encoder.Encode(msg); err != nil {
		return fmt.Errorf("%w: send ipc message: %v", model.ErrIO, err)
	}
	return nil
}

// DrainReader reads every available newline-delimited JSON message from r
// (typically a child's stdout pipe) into a RingBuffer of the given
// capacity, one raw JSON line per entry; decoding is left to the caller.
// The reading runs in its own goroutine until r is closed or exhausted,
// and the returned channel is closed when it finishes.
func DrainReader(r io.Reader, capacity int) (*containers.RingBuffer, <-chan struct{}) {
	rb := containers.NewRingBuffer(capacity)
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			msg := make([]byte, len(line))
			copy(msg, line)
			rb.Push(msg)
		}
	}()

	return rb, done
}
