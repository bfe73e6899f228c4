package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/blake2b"
)

const DigestSize = blake2b.Size256

// PayloadEncoder accumulates one batch's payloads. Every payload feeds the
// digest; when compress is set it is also appended to an lz4 stream as a
// length-prefixed record. Payload bytes are copied, so callers may pass arena
// memory.
type PayloadEncoder struct {
	digest hash.Hash
	buf    bytes.Buffer
	zw     *lz4.Writer
	size   int
	err    error
}

func NewPayloadEncoder(compress bool) *PayloadEncoder {
	d, _ := blake2b.New256(nil) // only fails for keys over 64 bytes
	e := &PayloadEncoder{digest: d}
	if compress {
		e.zw = lz4.NewWriter(&e.buf)
		e.err = e.zw.Apply(
			lz4.BlockChecksumOption(true),
			lz4.ChecksumOption(true),
			lz4.CompressionLevelOption(lz4.Fast),
		)
	}
	return e
}

// Add records one payload.
func (e *PayloadEncoder) Add(p []byte) {
	e.digest.Write(p)
	e.size += len(p)
	if e.zw == nil || e.err != nil {
		return
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(p)))
	if _, err := e.zw.Write(n[:]); err != nil {
		e.err = err
		return
	}
	if _, err := e.zw.Write(p); err != nil {
		e.err = err
	}
}

// Finish returns the digest and, when compressing, the closed stream.
func (e *PayloadEncoder) Finish() (digest [DigestSize]byte, stream []byte, err error) {
	copy(digest[:], e.digest.Sum(nil))
	if e.zw == nil {
		return digest, nil, nil
	}
	if e.err != nil {
		return digest, nil, fmt.Errorf("compress payloads: %w", e.err)
	}
	if err := e.zw.Close(); err != nil {
		return digest, nil, fmt.Errorf("compress payloads: %w", err)
	}
	return digest, e.buf.Bytes(), nil
}

// Size reports uncompressed bytes added.
func (e *PayloadEncoder) Size() int { return e.size }

// DecodePayloads splits a stream produced by PayloadEncoder back into
// payloads and checks them against digest.
func DecodePayloads(stream []byte, digest [DigestSize]byte) ([][]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(stream))
	d, _ := blake2b.New256(nil)
	var out [][]byte
	var n [4]byte
	for {
		if _, err := io.ReadFull(zr, n[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode payload length: %w", err)
		}
		p := make([]byte, binary.LittleEndian.Uint32(n[:]))
		if _, err := io.ReadFull(zr, p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		d.Write(p)
		out = append(out, p)
	}
	var got [DigestSize]byte
	copy(got[:], d.Sum(nil))
	if got != digest {
		return nil, errors.New("decode payloads: digest mismatch")
	}
	return out, nil
}
