package arduino

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds one inbound protocol line.
const maxLineSize = 1 << 20

// router owns the open transport for one connection session. It frames
// inbound bytes into lines and serialises outbound writes.
type router struct {
	conn    io.ReadWriteCloser
	session uint64
}

// bound reports whether a transport is attached.
func (r *router) bound() bool { return r.conn != nil }

// bind attaches conn for session and starts the reader. onLine is called
// for every line in arrival order and onClosed exactly once when the
// stream ends. Both run on the reader goroutine.
func (r *router) bind(conn io.ReadWriteCloser, session uint64, onLine func([]byte), onClosed func(error)) error {
	if r.conn != nil {
		return ErrAlreadyBound
	}
	r.conn = conn
	r.session = session

	go readLines(conn, onLine, onClosed)
	return nil
}

func readLines(rd io.Reader, onLine func([]byte), onClosed func(error)) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		onLine(bytes.Clone(line))
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	onClosed(err)
}

// write sends a single-entry frame. It does not wait for any reply.
func (r *router) write(id Identity, data json.RawMessage) error {
	if r.conn == nil {
		return ErrTransportNotOpen
	}
	frame, err := EncodeFrame(id, data)
	if err != nil {
		return err
	}
	if _, err := r.conn.Write(frame); err != nil {
		return fmt.Errorf("writing frame to %s: %w", id, err)
	}
	return nil
}

// unbind closes the transport. Lines still in flight from the old session
// are ignored by the driver because the session no longer matches.
func (r *router) unbind() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
