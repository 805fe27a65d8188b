// Package conn implements qached's per-connection state machine: the
// handshake (spec.md §4.2) followed by the request/response loop
// (spec.md §4.7). A Handler owns one net.Conn to completion — it is
// handed to a worker-pool job and never shared.
package conn

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/h2owater425/qached/internal/cache"
	"github.com/h2owater425/qached/internal/journal"
	"github.com/h2owater425/qached/internal/logger"
	"github.com/h2owater425/qached/internal/metrics"
	"github.com/h2owater425/qached/internal/protocol"
	"github.com/h2owater425/qached/internal/store"
)

// readTimeout is the per-read deadline spec.md §4.7 requires ("Set
// timeouts on accept: read timeout = 60 seconds").
const readTimeout = 60 * time.Second

// Handler serves one TCP connection from accept to close.
type Handler struct {
	cache   *cache.Cache
	store   *store.Store
	journal *journal.Journal
	version protocol.Version
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New builds a Handler sharing the given cache, store, journal and
// server version across every connection it serves.
func New(c *cache.Cache, s *store.Store, j *journal.Journal, version protocol.Version, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{cache: c, store: s, journal: j, version: version, metrics: m, log: log}
}

// Serve configures nc's timeouts and runs the handshake and request loop
// to completion, closing nc before returning. It never panics on a
// well-formed protocol violation — every failure path results in either
// an ERROR frame and loop continuation, or a clean connection close.
func (h *Handler) Serve(nc net.Conn) {
	defer nc.Close() //nolint:errcheck

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true) // low-latency writes, spec.md §4.7
	}

	h.metrics.ConnectionsAccepted.Add(1)

	if err := h.handshake(nc); err != nil {
		h.metrics.HandshakeRejected.Add(1)
		if !protocol.IsTerminate(err) {
			h.log.Debugf("handshake", "rejected %s: %v", nc.RemoteAddr(), err)
		}
		return
	}

	h.loop(nc)
}

// handshake performs the READY/HELLO/OK exchange (spec.md §4.2). On any
// rejection it writes one ERROR frame (unless the failure is itself an
// I/O error) and returns a non-nil error; the caller closes the
// connection either way.
func (h *Handler) handshake(nc net.Conn) error {
	vb := h.version.Bytes()
	ready := append([]byte{protocol.OpReady}, vb[:]...)
	if _, err := nc.Write(ready); err != nil {
		return err
	}

	if err := nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}

	hello := make([]byte, 4)
	if _, err := io.ReadFull(nc, hello); err != nil {
		return protocol.SendError(nc, mapReadError(err).Error())
	}

	if hello[0] != protocol.OpHello {
		return protocol.SendError(nc, protocol.ErrHandshakeOrder.Error())
	}

	clientVersion, err := protocol.ParseVersionBytes(hello[1:])
	if err != nil {
		return protocol.SendError(nc, protocol.ErrClientVersion.Error())
	}

	if clientVersion.Compare(h.version) > 0 {
		ceiling := &protocol.ErrVersionCeiling{Server: h.version}
		return protocol.SendError(nc, ceiling.Error())
	}

	if _, err := nc.Write([]byte{protocol.OpOK}); err != nil {
		return err
	}
	return nil
}

// loop reads and dispatches requests until QUIT, a protocol error, or an
// unrecoverable I/O error (spec.md §4.7).
func (h *Handler) loop(nc net.Conn) {
	for {
		if err := nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		opcode := make([]byte, 1)
		if _, err := io.ReadFull(nc, opcode); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return // graceful client termination, spec.md §7
			}
			h.sendOrClose(nc, mapReadError(err))
			return
		}

		switch opcode[0] {
		case protocol.OpSet:
			if err := h.handleSet(nc); err != nil {
				if !h.sendOrClose(nc, err) {
					return
				}
			}
		case protocol.OpDel:
			if err := h.handleDel(nc); err != nil {
				if !h.sendOrClose(nc, err) {
					return
				}
			}
		case protocol.OpGet:
			if err := h.handleGet(nc); err != nil {
				if !h.sendOrClose(nc, err) {
					return
				}
			}
		case protocol.OpNop:
			h.metrics.RequestsNOP.Add(1)
			if _, err := nc.Write([]byte{protocol.OpOK}); err != nil {
				return
			}
		case protocol.OpQuit:
			return
		default:
			h.metrics.RequestsBad.Add(1)
			if !h.sendOrClose(nc, protocol.ErrOperationInvalid) {
				return
			}
		}
	}
}

// sendOrClose writes an ERROR frame for err and returns true if the loop
// should continue, or false if the connection must be closed (either the
// error carries no message — a disguised QUIT — or writing the frame
// itself failed, per spec.md §7: "Any attempt to send the ERROR frame
// that itself fails terminates the connection.").
func (h *Handler) sendOrClose(nc net.Conn, err error) bool {
	sendErr := protocol.SendError(nc, err.Error())
	if sendErr == nil {
		return true
	}
	if !protocol.IsTerminate(sendErr) {
		h.log.Debugf("loop", "failed to send error frame: %v", sendErr)
	}
	return false
}

func (h *Handler) handleSet(nc net.Conn) (retErr error) {
	h.metrics.RequestsSET.Add(1)

	// A failed allocation inside the map insert or the evictor's scratch
	// slices surfaces as a runtime panic, not a Go error value; recover it
	// here and report it the way spec.md §7 names it ("memory must have
	// free space") rather than crashing the connection's goroutine.
	defer func() {
		if r := recover(); r != nil {
			retErr = protocol.ErrMemoryFull
		}
	}()

	key, err := protocol.ReadString(nc, protocol.KeyLengthPrefix)
	if err != nil {
		return mapReadError(err)
	}
	value, err := protocol.ReadString(nc, protocol.ValueLengthPrefix)
	if err != nil {
		return mapReadError(err)
	}

	if err := h.cache.Set(key, cache.NewEntry(value)); err != nil {
		return err
	}

	if h.journal != nil {
		h.journal.BeginSet(key, value)
	}
	if err := h.store.Write(key, value); err != nil {
		return mapWriteError(err)
	}
	if h.journal != nil {
		h.journal.Commit(key)
	}
	h.metrics.StoreWrites.Add(1)

	_, err = nc.Write([]byte{protocol.OpOK})
	return err
}

func (h *Handler) handleDel(nc net.Conn) error {
	h.metrics.RequestsDEL.Add(1)

	key, err := protocol.ReadString(nc, protocol.KeyLengthPrefix)
	if err != nil {
		return mapReadError(err)
	}

	h.cache.Remove(key)

	if h.journal != nil {
		h.journal.BeginDel(key)
	}
	existed, err := h.store.Delete(key)
	if err != nil {
		return mapWriteError(err)
	}
	if h.journal != nil {
		h.journal.Commit(key)
	}
	h.metrics.StoreDeletes.Add(1)

	if !existed {
		return protocol.ErrKeyMustExist
	}

	_, err = nc.Write([]byte{protocol.OpOK})
	return err
}

func (h *Handler) handleGet(nc net.Conn) error {
	h.metrics.RequestsGET.Add(1)

	key, err := protocol.ReadString(nc, protocol.KeyLengthPrefix)
	if err != nil {
		return mapReadError(err)
	}

	if entry, ok := h.cache.Get(key); ok {
		h.metrics.CacheHits.Add(1)
		return writeValue(nc, entry.Value)
	}
	h.metrics.CacheMisses.Add(1)

	// Lock ordering: release the cache before taking the store lock,
	// spec.md §5 "Never hold the cache lock across the store's exclusive
	// lock on the GET refill path" — satisfied here because cache.Get
	// already released its lock on return.
	value, found, err := h.store.Read(key)
	if err != nil {
		return mapWriteError(err)
	}
	h.metrics.StoreReads.Add(1)
	if !found {
		return protocol.ErrKeyMustExist
	}

	if err := h.cache.Set(key, cache.NewEntry(value)); err != nil {
		return err
	}

	return writeValue(nc, value)
}

func writeValue(nc net.Conn, value string) error {
	header := []byte{
		protocol.OpValue,
		byte(len(value) >> 24),
		byte(len(value) >> 16),
		byte(len(value) >> 8),
		byte(len(value)),
	}
	if _, err := nc.Write(header); err != nil {
		return err
	}
	_, err := io.WriteString(nc, value)
	return err
}

// mapReadError maps a read-path I/O error onto one of spec.md §7's wire
// error kinds.
func mapReadError(err error) error {
	if errors.Is(err, protocol.ErrLengthZero) {
		return err
	}
	if isTimeout(err) {
		return protocol.ErrTimedOut
	}
	return err
}

// mapWriteError maps a store I/O error onto spec.md §7's wire error
// kinds: disk-full surfaces as "storage must have free space".
func mapWriteError(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return protocol.ErrKeyMustExist
	}
	if errors.Is(err, syscall.ENOSPC) {
		return protocol.ErrStorageFull
	}
	if isTimeout(err) {
		return protocol.ErrTimedOut
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return protocol.ErrTimedOut
	}
	return err
}

// isTimeout reports whether err is a net.Error deadline expiry, spec.md
// §7's "timed out or would-block" read-timeout condition.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
