package onewire

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"kegbotd/types"
)

// fakePort simulates a bus master that answers every search command with a
// fixed, pre-baked response buffer.
type fakePort struct {
	written  bytes.Buffer
	response []byte
}

func newFakePort(tokens ...types.Token) *fakePort {
	buf := make([]byte, 0, 1+8*len(tokens))
	buf = append(buf, byte(len(tokens)))
	for _, t := range tokens {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(t))
		buf = append(buf, b[:]...)
	}
	return &fakePort{response: buf}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written.Write(b)
	return len(b), nil
}

func (p *fakePort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, p.response)
	p.response = p.response[n:]
	return n, nil
}

func TestScan_ReturnsDiscoveredTokens(t *testing.T) {
	port := newFakePort(0x1111, 0x2222, 0x3333)
	s := New(port, Config{})

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %v", len(got), got)
	}
}

func TestScan_FiltersIgnoreList(t *testing.T) {
	port := newFakePort(0x1111, 0x2222, 0x3333)
	s := New(port, Config{IgnoreList: []types.Token{0x2222}})

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, tok := range got {
		if tok == 0x2222 {
			t.Fatalf("expected 0x2222 to be filtered out, got %v", got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tokens after filtering, got %d", len(got))
	}
}

func TestScan_EmptyBusYieldsNoTokens(t *testing.T) {
	port := newFakePort()
	s := New(port, Config{})

	got, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}

func TestScan_SendsSearchCommand(t *testing.T) {
	port := newFakePort(0xABCD)
	s := New(port, Config{})

	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if port.written.Len() != 1 || port.written.Bytes()[0] != cmdSearch {
		t.Fatalf("expected single search command byte, got %v", port.written.Bytes())
	}
}

func TestScan_DeviceCountExceedsMaxIsError(t *testing.T) {
	port := newFakePort()
	port.response = []byte{200} // claims 200 devices, exceeding the configured max of 8
	s := New(port, Config{ResponseSize: 8})

	_, err := s.Scan(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized device count")
	}
}

func TestScan_RespectsContextTimeout(t *testing.T) {
	port := &blockingPort{}
	s := New(port, Config{ReadTimeout: 20 * time.Millisecond})

	_, err := s.Scan(context.Background())
	if err == nil {
		t.Fatal("expected timeout error from a port that never responds")
	}
}

// blockingPort accepts writes but never returns any bytes from reads,
// forcing the scanner to rely on the context deadline.
type blockingPort struct{}

func (p *blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *blockingPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
