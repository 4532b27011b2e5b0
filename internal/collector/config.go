package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pi-connector/internal/piwebapi"
)

// Source configuration: the Modbus servers, their devices and the points
// that become PI tags. This mirrors the `sources` section of config.yaml.

type ServerConfig struct {
	ServerID   string        `yaml:"server_id"`
	ServerName string        `yaml:"server_name"`
	Protocol   string        `yaml:"protocol"` // modbus-tcp | modbus-rtu
	Connection Connection    `yaml:"connection"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	Enabled    bool          `yaml:"enabled"`
	Devices    []Device      `yaml:"devices"`
}

type Connection struct {
	// TCP
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RTU
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
}

type Device struct {
	DeviceID string  `yaml:"device_id"`
	Vendor   string  `yaml:"vendor"`
	SlaveID  uint8   `yaml:"slave_id"`
	Points   []Point `yaml:"points"`
}

type Point struct {
	Address      uint16  `yaml:"address"`
	Name         string  `yaml:"name"`
	DataType     string  `yaml:"data_type"`     // uint16 | int16 | uint32 | int32 | float32
	ByteOrder    string  `yaml:"byte_order"`    // ABCD | DCBA | BADC | CDAB
	RegisterType string  `yaml:"register_type"` // holding | input | coil | discrete (read-only)
	Scale        float64 `yaml:"scale"`
	Offset       float64 `yaml:"offset"`
	Unit         string  `yaml:"unit"`
	// Tag is the PI tag name; defaults to Name.
	Tag string `yaml:"tag"`
	// TagType overrides the tag data type inferred from the register.
	TagType string `yaml:"tag_type"`
}

// TagName is the name the point is published under.
func (p Point) TagName() string {
	if t := strings.TrimSpace(p.Tag); t != "" {
		return t
	}
	return p.Name
}

// TagDataType returns the configured tag type, or infers one: bit registers
// are Boolean, float32 or scaled values are Float, uint32 is DWord and any
// other integer register is Int.
func (p Point) TagDataType() (piwebapi.DataType, error) {
	if strings.TrimSpace(p.TagType) != "" {
		return piwebapi.ParseDataType(p.TagType)
	}
	switch strings.ToLower(p.RegisterType) {
	case "coil", "discrete":
		return piwebapi.TypeBoolean, nil
	}
	switch strings.ToLower(p.DataType) {
	case "float32":
		return piwebapi.TypeFloat, nil
	}
	if s := p.scale(); s != 1 && s != float64(int64(s)) {
		return piwebapi.TypeFloat, nil
	}
	if strings.ToLower(p.DataType) == "uint32" {
		return piwebapi.TypeDWord, nil
	}
	return piwebapi.TypeInt, nil
}

// scale treats an unset scale as 1.
func (p Point) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

// Validate checks the server tree and that tag names are unique.
func Validate(servers []ServerConfig) error {
	seen := make(map[string]string)
	for _, srv := range servers {
		if srv.ServerID == "" {
			return errors.New("source server_id is required")
		}
		for _, dev := range srv.Devices {
			if dev.DeviceID == "" {
				return fmt.Errorf("server %s: device_id is required", srv.ServerID)
			}
			for _, p := range dev.Points {
				name := p.TagName()
				if name == "" {
					return fmt.Errorf("device %s: point at address %d has no name", dev.DeviceID, p.Address)
				}
				if _, err := p.TagDataType(); err != nil {
					return fmt.Errorf("point %s: %w", name, err)
				}
				if prev, dup := seen[name]; dup {
					return fmt.Errorf("tag %s defined by both %s and %s", name, prev, dev.DeviceID)
				}
				seen[name] = dev.DeviceID
			}
		}
	}
	return nil
}
