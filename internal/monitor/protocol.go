package monitor

import (
	"fmt"

	"github.com/l1jgo/coresync/internal/bitstream"
)

// Frame opcodes. The first payload byte of every frame.
const (
	OpHello    uint8 = 0x01 // server → client on connect
	OpStats    uint8 = 0x02 // server → client once per frame
	OpPing     uint8 = 0x10 // client → server
	OpPong     uint8 = 0x11 // server → client
	OpSnapshot uint8 = 0x12 // client → server: request object list; server → client: reply
)

// ProtocolVersion is sent in the hello frame.
const ProtocolVersion = 1

// Stats is one frame's sync summary as streamed to monitor clients.
type Stats struct {
	Frame        uint64
	Captured     uint32
	Destroyed    uint32
	Detached     uint32
	Failed       uint32
	Bytes        uint32
	Objects      uint32
	Dirty        uint32
	Applied      uint64
	Expired      uint64
	Stale        uint64
	QueuePending uint32
	ArenasInUse  uint8
}

const statsSize = bitstream.SizeU8 + bitstream.SizeU64*4 + bitstream.SizeU32*8 + bitstream.SizeU8

func EncodeStats(s Stats) []byte {
	w := bitstream.NewWriter(make([]byte, statsSize))
	w.WriteU8(OpStats)
	w.WriteU64(s.Frame)
	w.WriteU32(s.Captured)
	w.WriteU32(s.Destroyed)
	w.WriteU32(s.Detached)
	w.WriteU32(s.Failed)
	w.WriteU32(s.Bytes)
	w.WriteU32(s.Objects)
	w.WriteU32(s.Dirty)
	w.WriteU64(s.Applied)
	w.WriteU64(s.Expired)
	w.WriteU64(s.Stale)
	w.WriteU32(s.QueuePending)
	w.WriteU8(s.ArenasInUse)
	return w.Bytes()
}

func DecodeStats(data []byte) (Stats, error) {
	r := bitstream.NewReader(data)
	if op := r.ReadU8(); op != OpStats {
		return Stats{}, fmt.Errorf("monitor: opcode 0x%02X is not a stats frame", op)
	}
	s := Stats{
		Frame:        r.ReadU64(),
		Captured:     r.ReadU32(),
		Destroyed:    r.ReadU32(),
		Detached:     r.ReadU32(),
		Failed:       r.ReadU32(),
		Bytes:        r.ReadU32(),
		Objects:      r.ReadU32(),
		Dirty:        r.ReadU32(),
		Applied:      r.ReadU64(),
		Expired:      r.ReadU64(),
		Stale:        r.ReadU64(),
		QueuePending: r.ReadU32(),
		ArenasInUse:  r.ReadU8(),
	}
	return s, r.Err()
}

func encodeHello(name string) []byte {
	w := bitstream.NewWriter(make([]byte, bitstream.SizeU8+bitstream.SizeU16+bitstream.SizeString(name)))
	w.WriteU8(OpHello)
	w.WriteU16(ProtocolVersion)
	w.WriteString(name)
	return w.Bytes()
}

// DecodeHello returns the engine name announced by the server.
func DecodeHello(data []byte) (version uint16, name string, err error) {
	r := bitstream.NewReader(data)
	if op := r.ReadU8(); op != OpHello {
		return 0, "", fmt.Errorf("monitor: opcode 0x%02X is not a hello frame", op)
	}
	version = r.ReadU16()
	name = r.ReadString()
	return version, name, r.Err()
}

func encodePong(token uint32) []byte {
	w := bitstream.NewWriter(make([]byte, bitstream.SizeU8+bitstream.SizeU32))
	w.WriteU8(OpPong)
	w.WriteU32(token)
	return w.Bytes()
}

// ObjectInfo is one row of a snapshot reply.
type ObjectInfo struct {
	ID    uint64
	Name  string
	Dirty bool
}

func EncodeSnapshot(objs []ObjectInfo) []byte {
	size := bitstream.SizeU8 + bitstream.SizeU16
	for _, o := range objs {
		size += bitstream.SizeU64 + bitstream.SizeString(o.Name) + bitstream.SizeU8
	}
	w := bitstream.NewWriter(make([]byte, size))
	w.WriteU8(OpSnapshot)
	w.WriteU16(uint16(len(objs)))
	for _, o := range objs {
		w.WriteU64(o.ID)
		w.WriteString(o.Name)
		w.WriteBool(o.Dirty)
	}
	return w.Bytes()
}

func DecodeSnapshot(data []byte) ([]ObjectInfo, error) {
	r := bitstream.NewReader(data)
	if op := r.ReadU8(); op != OpSnapshot {
		return nil, fmt.Errorf("monitor: opcode 0x%02X is not a snapshot frame", op)
	}
	n := int(r.ReadU16())
	out := make([]ObjectInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ObjectInfo{ID: r.ReadU64(), Name: r.ReadString(), Dirty: r.ReadBool()})
	}
	return out, r.Err()
}
