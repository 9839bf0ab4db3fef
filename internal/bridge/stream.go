package bridge

import (
	"bufio"
	"io"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// StreamItem is one element of a decoded NDJSON stream: either a valid
// Event or a recoverable parse error (spec P2/B5: a malformed line never
// terminates the stream).
type StreamItem struct {
	Event Event
	Err   error
}

// DecodeStream reads NDJSON lines from r and emits one StreamItem per
// non-blank line on the returned channel, closing it at EOF or when done
// is closed. Events of an unknown type are logged as a warning and not
// emitted. Parse errors are wrapped in kerrors.ErrProtocol and delivered
// as StreamItem.Err without stopping the scan (B5), matching
// original_source/src/agent/bridge/client/stream.rs's EventStream.
func DecodeStream(r io.Reader, done <-chan struct{}) <-chan StreamItem {
	out := make(chan StreamItem)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := append([]byte(nil), line...)
			ev, known, err := ParseEvent(cp)
			var item StreamItem
			if err != nil {
				item = StreamItem{Err: wrapProtocol(err)}
			} else {
				if !known {
					logging.Warn("bridge: ignoring event of unknown type %q", ev.Type)
					continue
				}
				item = StreamItem{Event: ev}
			}
			select {
			case out <- item:
			case <-done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamItem{Err: wrapTransport(err)}:
			case <-done:
			}
		}
	}()
	return out
}

func wrapProtocol(err error) error {
	return &wrappedErr{kind: kerrors.ErrProtocol, cause: err}
}

func wrapTransport(err error) error {
	return &wrappedErr{kind: kerrors.ErrTransport, cause: err}
}

type wrappedErr struct {
	kind  error
	cause error
}

func (e *wrappedErr) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *wrappedErr) Unwrap() []error {
	return []error{e.kind, e.cause}
}
