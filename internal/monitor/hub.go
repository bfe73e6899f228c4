package monitor

import (
	"github.com/l1jgo/coresync/internal/bitstream"
	"go.uber.org/zap"
)

// maxSnapshotObjects keeps snapshot replies within one frame.
const maxSnapshotObjects = 1024

// Hub owns the live sessions on the frame loop side: it adopts new clients,
// answers their requests and broadcasts stats. Frame loop only.
type Hub struct {
	srv      *Server
	sessions map[uint64]*Session
	snapshot func() []ObjectInfo
	sent     uint64
	log      *zap.Logger
}

// NewHub wires a hub to srv. snapshot answers OpSnapshot requests and may be
// nil.
func NewHub(srv *Server, snapshot func() []ObjectInfo, log *zap.Logger) *Hub {
	return &Hub{
		srv:      srv,
		sessions: make(map[uint64]*Session),
		snapshot: snapshot,
		log:      log,
	}
}

// Len reports attached clients.
func (h *Hub) Len() int { return len(h.sessions) }

// Sent reports frames queued across all clients.
func (h *Hub) Sent() uint64 { return h.sent }

// Poll adopts new sessions, drops closed ones and answers pending requests.
func (h *Hub) Poll() {
	if h.srv != nil {
	adopt:
		for {
			select {
			case sess := <-h.srv.NewSessions():
				h.sessions[sess.ID] = sess
			default:
				break adopt
			}
		}
	}

	for id, sess := range h.sessions {
		if sess.IsClosed() {
			delete(h.sessions, id)
			if h.srv != nil {
				h.srv.release()
			}
			h.log.Info("monitor client disconnected", zap.Uint64("session", id))
			continue
		}
	drain:
		for {
			select {
			case req := <-sess.InQueue:
				h.handle(sess, req)
			default:
				break drain
			}
		}
	}
}

func (h *Hub) handle(sess *Session, req []byte) {
	r := bitstream.NewReader(req)
	switch op := r.ReadU8(); op {
	case OpPing:
		sess.Send(encodePong(r.ReadU32()))
	case OpSnapshot:
		var objs []ObjectInfo
		if h.snapshot != nil {
			objs = h.snapshot()
		}
		if len(objs) > maxSnapshotObjects {
			objs = objs[:maxSnapshotObjects]
		}
		sess.Send(EncodeSnapshot(objs))
	default:
		h.log.Debug("unknown monitor request", zap.Uint64("session", sess.ID), zap.Uint8("op", op))
	}
}

// Broadcast queues frame for every client and flushes their output.
func (h *Hub) Broadcast(frame []byte) {
	for _, sess := range h.sessions {
		sess.Send(frame)
		sess.FlushOutput()
		h.sent++
	}
}

// Flush pushes replies queued by Poll without broadcasting.
func (h *Hub) Flush() {
	for _, sess := range h.sessions {
		sess.FlushOutput()
	}
}

// Close disconnects every client and stops the listener.
func (h *Hub) Close() {
	for id, sess := range h.sessions {
		sess.Close()
		delete(h.sessions, id)
		if h.srv != nil {
			h.srv.release()
		}
	}
	if h.srv != nil {
		h.srv.Shutdown()
	}
}
