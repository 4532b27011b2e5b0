// Package modbus implements a small Modbus TCP slave used to simulate field
// devices for the connector and its tests.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

const (
	functionReadCoils          = 0x01
	functionReadDiscreteInputs = 0x02
	functionReadHoldingRegs    = 0x03
	functionReadInputRegs      = 0x04

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Table selects one of the four Modbus data tables.
type Table int

const (
	Holding Table = iota
	Input
	Coils
	DiscreteInputs
)

// ParseTable maps a register_type config value onto a table.
func ParseTable(registerType string) (Table, error) {
	switch registerType {
	case "holding", "":
		return Holding, nil
	case "input":
		return Input, nil
	case "coil":
		return Coils, nil
	case "discrete":
		return DiscreteInputs, nil
	default:
		return 0, fmt.Errorf("unsupported register type: %s", registerType)
	}
}

func (t Table) isBit() bool { return t == Coils || t == DiscreteInputs }

// Server is a read-only Modbus TCP slave. It answers every unit ID from the
// same register map.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	mu    sync.RWMutex
	regs  [2][]uint16
	bits  [2][]bool
	conns int
}

// NewServer constructs a server with the full 65536-entry address space.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{quit: make(chan struct{}), logger: logger}
	for i := range s.regs {
		s.regs[i] = make([]uint16, 65536)
		s.bits[i] = make([]bool, 65536)
	}
	return s
}

// Listen starts accepting Modbus TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr is the bound listener address, useful after listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections is the number of connections accepted so far.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.logger.Warn("modbus accept failed", "err", err)
			continue
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve answers MBAP framed requests until the peer closes the connection.
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	go func() {
		<-s.quit
		conn.Close()
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			continue
		}
		pdu := make([]byte, int(length)-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(pdu)
		frame := make([]byte, 7+len(response))
		copy(frame, header[:4])
		binary.BigEndian.PutUint16(frame[4:6], uint16(len(response)+1))
		frame[6] = header[6]
		copy(frame[7:], response)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(pdu []byte) []byte {
	function := pdu[0]
	var (
		data []byte
		err  error
	)
	switch function {
	case functionReadCoils:
		data, err = s.readBits(Coils, pdu)
	case functionReadDiscreteInputs:
		data, err = s.readBits(DiscreteInputs, pdu)
	case functionReadHoldingRegs:
		data, err = s.readRegisters(Holding, pdu)
	case functionReadInputRegs:
		data, err = s.readRegisters(Input, pdu)
	default:
		return []byte{function | 0x80, exceptionIllegalFunction}
	}
	if err != nil {
		return []byte{function | 0x80, errToCode(err)}
	}
	return append([]byte{function, byte(len(data))}, data...)
}

func requestRange(pdu []byte, maxQty uint16) (int, int, error) {
	if len(pdu) < 5 {
		return 0, 0, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > maxQty {
		return 0, 0, errInvalidQty
	}
	if int(start)+int(quantity) > 65536 {
		return 0, 0, errOutOfRange
	}
	return int(start), int(quantity), nil
}

func (s *Server) readBits(t Table, pdu []byte) ([]byte, error) {
	start, quantity, err := requestRange(pdu, 2000)
	if err != nil {
		return nil, err
	}
	result := make([]byte, (quantity+7)/8)

	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bits[t-Coils]
	for i := 0; i < quantity; i++ {
		if src[start+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func (s *Server) readRegisters(t Table, pdu []byte) ([]byte, error) {
	start, quantity, err := requestRange(pdu, 125)
	if err != nil {
		return nil, err
	}
	result := make([]byte, quantity*2)

	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.regs[t]
	for i := 0; i < quantity; i++ {
		binary.BigEndian.PutUint16(result[i*2:], src[start+i])
	}
	return result, nil
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the server and waits for all goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// WriteRegisters stores consecutive register values starting at address.
func (s *Server) WriteRegisters(t Table, address uint16, values []uint16) error {
	if t.isBit() {
		return fmt.Errorf("table %d holds bits", t)
	}
	if int(address)+len(values) > 65536 {
		return fmt.Errorf("address %d out of range", address)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.regs[t][address:], values)
	return nil
}

// WriteBit stores a coil or discrete input.
func (s *Server) WriteBit(t Table, address uint16, value bool) error {
	if !t.isBit() {
		return fmt.Errorf("table %d holds registers", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits[t-Coils][address] = value
	return nil
}

// Register returns one register value.
func (s *Server) Register(t Table, address uint16) (uint16, error) {
	if t.isBit() {
		return 0, fmt.Errorf("table %d holds bits", t)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[t][address], nil
}
