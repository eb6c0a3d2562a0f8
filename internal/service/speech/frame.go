package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎 ASR 二进制帧：4 字节头 + 可选 sequence + payload size + payload。
// 只实现识别链路用到的子集。

const protocolVersion = 0b0001

type frameType uint8

const (
	frameFullClientRequest  frameType = 0b0001
	frameAudioOnlyRequest   frameType = 0b0010
	frameFullServerResponse frameType = 0b1001
	frameServerAck          frameType = 0b1011
	frameError              frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
)

const (
	serializationNone uint8 = 0b0000
	serializationJSON uint8 = 0b0001

	compressionNone uint8 = 0b0000
	compressionGzip uint8 = 0b0001
)

type frame struct {
	Type          frameType
	Flags         frameFlags
	Serialization uint8
	Compression   uint8
	Sequence      int32
	ErrorCode     uint32
	Payload       []byte
}

func (f *frame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) isLast() bool {
	switch f.Flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	}
	return false
}

func encodeFrame(f *frame) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 12+len(f.Payload)))
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.Type)<<4 | uint8(f.Flags))
	buf.WriteByte(f.Serialization<<4 | f.Compression)
	buf.WriteByte(0)

	word := make([]byte, 4)
	if f.hasSequence() {
		binary.BigEndian.PutUint32(word, uint32(f.Sequence))
		buf.Write(word)
	}
	if f.Type == frameError {
		binary.BigEndian.PutUint32(word, f.ErrorCode)
		buf.Write(word)
	}
	binary.BigEndian.PutUint32(word, uint32(len(f.Payload)))
	buf.Write(word)
	buf.Write(f.Payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if version := head[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &frame{
		Type:          frameType(head[1] >> 4),
		Flags:         frameFlags(head[1] & 0x0F),
		Serialization: head[2] >> 4,
		Compression:   head[2] & 0x0F,
	}

	readWord := func(what string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", what, err)
		}
		return v, nil
	}

	if f.hasSequence() {
		seq, err := readWord("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}
	if f.Type == frameError {
		code, err := readWord("error code")
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}
	size, err := readWord("payload size")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (expected %d bytes): %w", size, err)
		}
	}
	return f, nil
}

// payload returns the frame body with compression removed.
func (f *frame) payload() ([]byte, error) {
	switch f.Compression {
	case compressionNone:
		return f.Payload, nil
	case compressionGzip:
		return gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Compression)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}

// audioFrame builds the sequence-numbered audio packet; the last packet
// carries a negative sequence.
func audioFrame(chunk []byte, sequence int32, last bool) (*frame, error) {
	compressed, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}
	flags := flagPositiveSequence
	if last {
		flags = flagNegativeSequence
		sequence = -sequence
	}
	return &frame{
		Type:          frameAudioOnlyRequest,
		Flags:         flags,
		Serialization: serializationNone,
		Compression:   compressionGzip,
		Sequence:      sequence,
		Payload:       compressed,
	}, nil
}
