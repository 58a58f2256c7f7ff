package actuator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// serialPoll is how long a read on the port blocks before returning
// empty-handed, so the reader notices Close.
const serialPoll = 100 * time.Millisecond

// SerialTransport speaks the controller protocol over a serial link: each
// command is one JSON object terminated by a newline, answered by one JSON
// line carrying "status" on success or "error" on failure.
//
// Every command carries a "seq" number. A reply that echoes a different
// seq belongs to an earlier command and is skipped, as is anything that
// arrived while no command was waiting.
type SerialTransport struct {
	// ReplyTimeout bounds the wait for a reply when ctx has no deadline.
	ReplyTimeout time.Duration

	mx  sync.Mutex
	rw  io.ReadWriter
	seq uint64

	lines   chan []byte
	dead    chan struct{}
	readErr error

	closeOnce sync.Once
	closeCh   chan struct{}
}

var _ Transport = &SerialTransport{}

// OpenSerial opens the named port. replyTimeout bounds a single reply.
func OpenSerial(name string, baud int, replyTimeout time.Duration) (*SerialTransport, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: serialPoll,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port '%s'", name)
	}
	t := NewSerialTransport(p)
	t.ReplyTimeout = replyTimeout
	return t, nil
}

// NewSerialTransport uses rw as the link to the controller.
func NewSerialTransport(rw io.ReadWriter) *SerialTransport {
	t := &SerialTransport{
		ReplyTimeout: DefaultCommandTimeout,
		rw:           rw,
		lines:        make(chan []byte, 16),
		dead:         make(chan struct{}),
		closeCh:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Close will close the underlying port, if it implements io.Closer.
func (t *SerialTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)
		if closer, ok := t.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// readLoop forwards complete lines from the port. A read timeout shows up
// as io.EOF and only means the line is not finished yet.
func (t *SerialTransport) readLoop() {
	r := bufio.NewReader(t.rw)
	var buf []byte
	for {
		data, err := r.ReadBytes('\n')
		buf = append(buf, data...)
		switch {
		case err == nil:
			line := bytes.TrimSpace(buf)
			buf = nil
			if len(line) == 0 {
				continue
			}
			select {
			case t.lines <- line:
			case <-t.closeCh:
				return
			}
		case err == io.EOF:
			select {
			case <-t.closeCh:
				return
			case <-time.After(serialPoll):
			}
		default:
			t.readErr = err
			close(t.dead)
			return
		}
	}
}

// drain discards replies nobody is waiting for, such as the late answer
// to a command that already timed out.
func (t *SerialTransport) drain() {
	for {
		select {
		case <-t.lines:
		default:
			return
		}
	}
}

func staleReply(line []byte, seq uint64) bool {
	var r struct {
		Seq *uint64 `json:"seq"`
	}
	if json.Unmarshal(line, &r) != nil || r.Seq == nil {
		return false
	}
	return *r.Seq != seq
}

// roundTrip writes one line and waits for its reply.
func (t *SerialTransport) roundTrip(ctx context.Context, cmd Command) ([]byte, error) {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, unreachable(err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.ReplyTimeout)
		defer cancel()
	}

	t.drain()
	t.seq++
	frame := cmd.fields()
	frame["seq"] = t.seq
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errors.Wrap(err, "marshal command")
	}
	_, err = t.rw.Write(append(data, '\n'))
	if err != nil {
		return nil, unreachable(err)
	}

	for {
		select {
		case line := <-t.lines:
			if staleReply(line, t.seq) {
				continue
			}
			return line, nil
		case <-t.dead:
			return nil, unreachable(t.readErr)
		case <-t.closeCh:
			return nil, unreachable(io.ErrClosedPipe)
		case <-ctx.Done():
			return nil, unreachable(ctx.Err())
		}
	}
}

func (t *SerialTransport) Do(ctx context.Context, cmd Command) (Ack, error) {
	line, err := t.roundTrip(ctx, cmd)
	if err != nil {
		return Ack{}, err
	}
	var r reply
	err = json.Unmarshal(line, &r)
	if err != nil {
		return Ack{}, &TransportError{Message: "Controller sent an invalid reply: " + string(line), Err: err}
	}
	if r.Error != "" {
		return Ack{}, &TransportError{Message: "Controller error: " + r.Error}
	}
	return r.ack(), nil
}

func (t *SerialTransport) Telemetry(ctx context.Context) (json.RawMessage, error) {
	line, err := t.roundTrip(ctx, Command{Name: Telemetry})
	if err != nil {
		return nil, err
	}
	if !json.Valid(line) {
		return nil, &TransportError{Message: "Controller sent invalid telemetry"}
	}
	var r reply
	if json.Unmarshal(line, &r) == nil && r.Error != "" {
		return nil, &TransportError{Message: "Controller error: " + r.Error}
	}
	return json.RawMessage(line), nil
}
