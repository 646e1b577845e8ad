// Package onewire talks to a serial 1-Wire bus master adapter and
// enumerates the tokens currently present on the bus. The wire protocol is
// a minimal request/response framing over a UART: a one-byte search
// command, answered with a device count followed by that many 8-byte
// (big-endian) ROM IDs.
package onewire

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"kegbotd/errcode"
	"kegbotd/types"
)

const cmdSearch byte = 0xA5

// SerialPort is the narrow transport the scanner needs, matching the shape
// of this codebase's existing UART adapter around
// github.com/jangala-dev/tinygo-uartx.
type SerialPort interface {
	Write(b []byte) (int, error)
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
}

// Config names the devices the scanner should never report as present:
// the bus master itself and any other persistent non-user fixture.
type Config struct {
	IgnoreList   []types.Token
	ReadTimeout  time.Duration
	ResponseSize int // max devices a single search response can carry
}

// Scanner enumerates ROM IDs on a 1-Wire bus. One Scanner owns exclusive
// use of its serial port; Scan is safe to call from a single goroutine at a
// time, serialized internally by a mutex so a caller holding the scanner
// across a refresh cannot race a concurrent caller.
type Scanner struct {
	mu     sync.Mutex
	port   SerialPort
	ignore map[types.Token]struct{}
	cfg    Config
}

// New builds a Scanner over the given serial port.
func New(port SerialPort, cfg Config) *Scanner {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	if cfg.ResponseSize <= 0 {
		cfg.ResponseSize = 64
	}
	ignore := make(map[types.Token]struct{}, len(cfg.IgnoreList))
	for _, t := range cfg.IgnoreList {
		ignore[t] = struct{}{}
	}
	return &Scanner{port: port, ignore: ignore, cfg: cfg}
}

// Scan issues one search command and returns every ROM ID answered back,
// excluding the configured ignore-list. Order is not significant; callers
// compare against the previous present-set by token identity.
func (s *Scanner) Scan(ctx context.Context) ([]types.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.port.Write([]byte{cmdSearch}); err != nil {
		return nil, errcode.Wrap(errcode.BusIoError, "write search command", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	header := make([]byte, 1)
	if err := s.readFull(readCtx, header); err != nil {
		return nil, errcode.Wrap(errcode.BusIoError, "read device count", err)
	}
	count := int(header[0])
	if count > s.cfg.ResponseSize {
		return nil, errcode.Wrap(errcode.BusIoError, "read device count",
			fmt.Errorf("device count %d exceeds configured max %d", count, s.cfg.ResponseSize))
	}

	body := make([]byte, count*8)
	if err := s.readFull(readCtx, body); err != nil {
		return nil, errcode.Wrap(errcode.BusIoError, "read rom ids", err)
	}

	tokens := make([]types.Token, 0, count)
	for i := 0; i < count; i++ {
		id := binary.BigEndian.Uint64(body[i*8 : i*8+8])
		tok := types.Token(id)
		if _, skip := s.ignore[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (s *Scanner) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := s.port.RecvSomeContext(ctx, buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		got += n
	}
	return nil
}
