package journal

import (
    "bytes"
    "testing"
)

func TestEntry_EncodeDecode(t *testing.T) {
    in := Entry{SN: 42, Target: "inode", Payload: []byte("payload")}
    data, err := in.Encode()
    if err != nil { t.Fatalf("encode: %v", err) }
    out, err := DecodeEntry(data)
    if err != nil { t.Fatalf("decode: %v", err) }
    if out.SN != 42 || out.Target != "inode" || !bytes.Equal(out.Payload, in.Payload) {
        t.Fatalf("roundtrip mismatch: %+v", out)
    }
    if out.IsSentinel() {
        t.Fatalf("real entry reported as sentinel")
    }
}

func TestEntry_Sentinel(t *testing.T) {
    s := sentinelEntry(-77)
    if !s.IsSentinel() {
        t.Fatalf("sentinel not recognized")
    }
    data, err := s.Encode()
    if err != nil { t.Fatalf("encode: %v", err) }
    out, err := DecodeEntry(data)
    if err != nil { t.Fatalf("decode: %v", err) }
    if out.SN != -77 || out.Target != "" || out.Payload != nil {
        t.Fatalf("sentinel roundtrip mismatch: %+v", out)
    }
}

func TestDecodeEntry_Truncated(t *testing.T) {
    if _, err := DecodeEntry([]byte{1, 2, 3}); err == nil {
        t.Fatalf("expected error for short buffer")
    }
    // header claims a 10-byte target but none follows
    e := Entry{SN: 1, Target: "abcdefghij"}
    data, _ := e.Encode()
    if _, err := DecodeEntry(data[:entryHeaderSize+3]); err == nil {
        t.Fatalf("expected error for truncated target")
    }
}
