package journal

import (
    "encoding/binary"
    "fmt"
    "math"
)

// Entry is the envelope replicated through the consensus log. SN is globally
// monotone for real entries; negative values are reserved for term-start
// sentinels and carry no target or payload. Target selects the logical
// journal the payload belongs to; the payload itself is opaque to this
// package.
type Entry struct {
    SN      int64
    Target  string
    Payload []byte
}

// IsSentinel reports whether the entry is a term-start marker.
func (e Entry) IsSentinel() bool { return e.SN < 0 }

// entry wire format: 8-byte big-endian SN, 2-byte big-endian target length,
// target bytes, payload until the end of the buffer.
const entryHeaderSize = 8 + 2

// Encode serializes the entry envelope.
func (e Entry) Encode() ([]byte, error) {
    if len(e.Target) > math.MaxUint16 {
        return nil, fmt.Errorf("journal: target name too long (%d bytes)", len(e.Target))
    }
    buf := make([]byte, entryHeaderSize+len(e.Target)+len(e.Payload))
    binary.BigEndian.PutUint64(buf[0:8], uint64(e.SN))
    binary.BigEndian.PutUint16(buf[8:10], uint16(len(e.Target)))
    copy(buf[entryHeaderSize:], e.Target)
    copy(buf[entryHeaderSize+len(e.Target):], e.Payload)
    return buf, nil
}

// DecodeEntry parses an entry envelope produced by Encode.
func DecodeEntry(data []byte) (Entry, error) {
    if len(data) < entryHeaderSize {
        return Entry{}, fmt.Errorf("journal: entry too short (%d bytes)", len(data))
    }
    sn := int64(binary.BigEndian.Uint64(data[0:8]))
    tlen := int(binary.BigEndian.Uint16(data[8:10]))
    if len(data) < entryHeaderSize+tlen {
        return Entry{}, fmt.Errorf("journal: truncated target (want %d bytes, have %d)",
            tlen, len(data)-entryHeaderSize)
    }
    e := Entry{
        SN:     sn,
        Target: string(data[entryHeaderSize : entryHeaderSize+tlen]),
    }
    if rest := data[entryHeaderSize+tlen:]; len(rest) > 0 {
        e.Payload = append([]byte(nil), rest...)
    }
    return e, nil
}

// sentinelEntry builds a term-start marker for the given negative SN.
func sentinelEntry(sn int64) Entry { return Entry{SN: sn} }
