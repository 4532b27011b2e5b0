package collector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"pi-connector/internal/piwebapi"
)

// Reading is a decoded value of one point.
// Value holds the scaled/offset value as float64 for uniformity.
// For boolean points, Value will be 0 or 1.
type Reading struct {
	Point     Point
	Raw       any
	Value     float64
	Timestamp time.Time
}

// Binding ties a configured point to the tag that publishes it.
type Binding struct {
	Point Point
	Tag   *piwebapi.Tag
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// deviceReader polls the points of one device over one connection.
type deviceReader struct {
	server   ServerConfig
	device   Device
	bindings []Binding

	handler  handlerWithConn
	client   mb.Client
	connAddr string
	// dial opens the connection; replaced in tests.
	dial func() error
}

// newHandler creates and configures a handler for TCP or RTU based on config.
// It returns the handler and a human-readable address for logs.
func newHandler(srv ServerConfig, dev Device) (handlerWithConn, string, error) {
	proto := strings.ToLower(strings.TrimSpace(srv.Protocol))
	timeout := srv.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch proto {
	case "modbus-tcp", "tcp", "":
		address := fmt.Sprintf("%s:%d", srv.Connection.Host, srv.Connection.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = dev.SlaveID
		return h, address, nil
	case "modbus-rtu", "rtu":
		port := srv.Connection.SerialPort
		if strings.TrimSpace(port) == "" {
			return nil, "", fmt.Errorf("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(port)
		if srv.Connection.BaudRate > 0 {
			h.BaudRate = srv.Connection.BaudRate
		}
		if srv.Connection.DataBits > 0 {
			h.DataBits = srv.Connection.DataBits
		}
		if srv.Connection.StopBits > 0 {
			h.StopBits = srv.Connection.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(srv.Connection.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = dev.SlaveID
		return h, port, nil
	default:
		return nil, "", fmt.Errorf("protocol %s not implemented", srv.Protocol)
	}
}

// connect opens the connection with the server's retry count.
func (d *deviceReader) connect(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	retry := max(d.server.RetryCount, 0)
	var err error
	for attempt := 0; attempt <= retry; attempt++ {
		if err = d.dial(); err == nil {
			d.client = mb.NewClient(d.handler)
			return nil
		}
		if attempt == retry {
			break
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect %s: %w", d.connAddr, err)
}

// poll reads every point of the device and stores the values in its tags.
// A non-finite reading leaves the tag's previous value in place.
func (d *deviceReader) poll(ctx context.Context) error {
	if err := d.connect(ctx); err != nil {
		return err
	}
	var skipped []error
	for _, b := range d.bindings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := readPoint(d.client, b.Point)
		if err != nil {
			// Attempt one reconnect and retry
			if recErr := d.reconnect(); recErr != nil {
				return fmt.Errorf("read point %s@%d: %w", b.Point.Name, b.Point.Address, err)
			}
			if r, err = readPoint(d.client, b.Point); err != nil {
				return fmt.Errorf("read point %s@%d: %w", b.Point.Name, b.Point.Address, err)
			}
		}
		v, err := FormatValue(b.Tag.Type, r.Value)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("point %s@%d: %w", b.Point.Name, b.Point.Address, err))
			continue
		}
		b.Tag.SetValue(v)
	}
	return errors.Join(skipped...)
}

// reconnect attempts to close and reopen the underlying handler.
func (d *deviceReader) reconnect() error {
	if d.handler == nil {
		return errors.New("no handler")
	}
	d.handler.Close()
	time.Sleep(200 * time.Millisecond)
	return d.dial()
}

func (d *deviceReader) close() error {
	if d.handler == nil || d.client == nil {
		return nil
	}
	d.client = nil
	return d.handler.Close()
}

func readPoint(client mb.Client, p Point) (Reading, error) {
	rt := strings.ToLower(p.RegisterType)
	dt := strings.ToLower(p.DataType)
	if dt == "" {
		dt = "uint16"
	}
	bo := strings.ToUpper(p.ByteOrder)

	r := Reading{Point: p, Timestamp: time.Now()}

	switch rt {
	case "holding", "input":
		qty := uint16(1)
		if dt == "float32" || dt == "uint32" || dt == "int32" {
			qty = 2
		}
		var data []byte
		var err error
		if rt == "holding" {
			data, err = client.ReadHoldingRegisters(p.Address, qty)
		} else {
			data, err = client.ReadInputRegisters(p.Address, qty)
		}
		if err != nil {
			return r, err
		}
		return decodeRegisterData(r, data, dt, bo, p)
	case "coil", "discrete":
		var data []byte
		var err error
		if rt == "coil" {
			data, err = client.ReadCoils(p.Address, 1)
		} else {
			data, err = client.ReadDiscreteInputs(p.Address, 1)
		}
		if err != nil {
			return r, err
		}
		b := len(data) > 0 && (data[0]&0x01 == 0x01)
		r.Raw = b
		r.Value = boolToFloat(b)
		return r, nil
	default:
		return r, fmt.Errorf("unsupported register type: %s", p.RegisterType)
	}
}

func decodeRegisterData(r Reading, data []byte, dt, bo string, p Point) (Reading, error) {
	applyScale := func(v float64) float64 { return v*p.scale() + p.Offset }

	switch dt {
	case "uint16":
		if len(data) < 2 {
			return r, errors.New("insufficient data for uint16")
		}
		u := binary.BigEndian.Uint16(data[:2])
		r.Raw = u
		r.Value = applyScale(float64(u))
		return r, nil
	case "int16":
		if len(data) < 2 {
			return r, errors.New("insufficient data for int16")
		}
		i := int16(binary.BigEndian.Uint16(data[:2]))
		r.Raw = i
		r.Value = applyScale(float64(i))
		return r, nil
	case "float32":
		if len(data) < 4 {
			return r, errors.New("insufficient data for float32")
		}
		f := math.Float32frombits(binary.BigEndian.Uint32(reorder32(data[:4], bo)))
		r.Raw = f
		r.Value = applyScale(float64(f))
		return r, nil
	case "uint32":
		if len(data) < 4 {
			return r, errors.New("insufficient data for uint32")
		}
		u := binary.BigEndian.Uint32(reorder32(data[:4], bo))
		r.Raw = u
		r.Value = applyScale(float64(u))
		return r, nil
	case "int32":
		if len(data) < 4 {
			return r, errors.New("insufficient data for int32")
		}
		i := int32(binary.BigEndian.Uint32(reorder32(data[:4], bo)))
		r.Raw = i
		r.Value = applyScale(float64(i))
		return r, nil
	default:
		return r, fmt.Errorf("unsupported data type: %s", dt)
	}
}

// reorder32 returns a 4-byte slice reordered per byte-order string.
// Supported orders: "ABCD" (default), "DCBA", "BADC" (byte swap within words), "CDAB" (word swap).
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	if len(in) < 4 {
		return append([]byte{}, in...)
	}
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// FormatValue renders a reading in the textual form posted for a tag type.
// Booleans become 0/1 and integer types are rounded. NaN and infinities
// have no PI representation and are rejected.
func FormatValue(typ piwebapi.DataType, v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("non-finite value %v", v)
	}
	switch typ {
	case piwebapi.TypeBoolean:
		if v != 0 {
			return "1", nil
		}
		return "0", nil
	case piwebapi.TypeInt, piwebapi.TypeDWord:
		return strconv.FormatFloat(math.Round(v), 'f', -1, 64), nil
	default:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
}

// Source samples every enabled Modbus device into its tags.
type Source struct {
	readers []*deviceReader
	tags    []*piwebapi.Tag
	logger  *slog.Logger
}

// NewSource builds one tag per configured point of the enabled servers.
// Connections are opened on the first Sample.
func NewSource(servers []ServerConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Validate(servers); err != nil {
		return nil, err
	}
	s := &Source{logger: logger}
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		for _, dev := range srv.Devices {
			h, addr, err := newHandler(srv, dev)
			if err != nil {
				return nil, fmt.Errorf("server %s device %s: %w", srv.ServerID, dev.DeviceID, err)
			}
			d := &deviceReader{server: srv, device: dev, handler: h, connAddr: addr}
			d.dial = h.Connect
			for _, p := range dev.Points {
				typ, err := p.TagDataType()
				if err != nil {
					return nil, err
				}
				tag := piwebapi.NewTag(p.TagName(), typ)
				d.bindings = append(d.bindings, Binding{Point: p, Tag: tag})
				s.tags = append(s.tags, tag)
			}
			s.readers = append(s.readers, d)
		}
	}
	return s, nil
}

// Tags returns the tags in configuration order.
func (s *Source) Tags() []*piwebapi.Tag { return s.tags }

// Sample polls every device once. A failing device does not stop the others;
// the failures are returned joined.
func (s *Source) Sample(ctx context.Context) error {
	var errs []error
	for _, d := range s.readers {
		if err := d.poll(ctx); err != nil {
			s.logger.Warn("device poll failed", "server", d.server.ServerID, "device", d.device.DeviceID, "err", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", d.server.ServerID, d.device.DeviceID, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every open connection.
func (s *Source) Close() error {
	var errs []error
	for _, d := range s.readers {
		if err := d.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
