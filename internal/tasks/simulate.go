package tasks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"pi-connector/internal/collector"
	"pi-connector/internal/modbus"
)

// SimulateOptions configures the Modbus slave started by Simulate.
type SimulateOptions struct {
	Addr     string
	Interval time.Duration
	// CSV replays rows of a file whose header names the tags; without it
	// every point follows a sine wave.
	CSV string
	// ready receives the bound address once the first values are written.
	ready func(addr string)
}

type simPoint struct {
	point collector.Point
	table modbus.Table
	tag   string
}

// Simulate serves the configured points of every enabled source from one
// Modbus TCP slave and updates them each interval until ctx is done. Devices
// sharing addresses overwrite each other.
func Simulate(ctx context.Context, opts Options, so SimulateOptions) error {
	cfg, logger, err := Load(opts)
	if err != nil {
		return err
	}
	if so.Interval <= 0 {
		so.Interval = time.Second
	}

	var points []simPoint
	for _, srv := range cfg.Sources {
		if !srv.Enabled {
			continue
		}
		for _, dev := range srv.Devices {
			for _, p := range dev.Points {
				table, err := modbus.ParseTable(p.RegisterType)
				if err != nil {
					return fmt.Errorf("point %s: %w", p.TagName(), err)
				}
				points = append(points, simPoint{point: p, table: table, tag: p.TagName()})
			}
		}
	}
	if len(points) == 0 {
		return errors.New("no enabled source points to simulate")
	}

	var rows []map[string]float64
	if so.CSV != "" {
		if rows, err = loadRows(so.CSV); err != nil {
			return fmt.Errorf("load csv: %w", err)
		}
	}

	server := modbus.NewServer(logger)
	if err := server.Listen(so.Addr); err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	defer server.Close()
	logger.Info("modbus simulator listening", "addr", server.Addr().String(), "points", len(points))

	ticker := time.NewTicker(so.Interval)
	defer ticker.Stop()
	for step := 0; ; step++ {
		for i, sp := range points {
			v := waveValue(step, i, sp.point)
			if rows != nil {
				raw, ok := rows[step%len(rows)][sp.tag]
				if !ok {
					continue
				}
				v = raw
			}
			if err := writePoint(server, sp, v); err != nil {
				logger.Warn("simulated value rejected", "tag", sp.tag, "value", v, "err", err)
			}
		}
		if step == 0 && so.ready != nil {
			so.ready(server.Addr().String())
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down simulator", "connections", server.Connections())
			return nil
		case <-ticker.C:
		}
	}
}

func writePoint(server *modbus.Server, sp simPoint, v float64) error {
	words, bit, err := sp.point.Encode(v)
	if err != nil {
		return err
	}
	if words == nil {
		return server.WriteBit(sp.table, sp.point.Address, bit)
	}
	return server.WriteRegisters(sp.table, sp.point.Address, words)
}

// waveValue is a 60-step sine between 0 and 100, phase-shifted per point.
// Bit points toggle every step.
func waveValue(step, index int, p collector.Point) float64 {
	switch strings.ToLower(p.RegisterType) {
	case "coil", "discrete":
		return float64((step + index) % 2)
	}
	v := 50 + 50*math.Sin(2*math.Pi*float64(step+5*index)/60)
	if strings.ToLower(p.DataType) == "int16" || strings.ToLower(p.DataType) == "int32" {
		v -= 50
	}
	return v
}

func loadRows(path string) ([]map[string]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	header := records[0]
	rows := make([]map[string]float64, 0, len(records)-1)
	for line, record := range records[1:] {
		row := make(map[string]float64, len(header))
		for i, key := range header {
			s := strings.TrimSpace(record[i])
			if s == "" {
				continue
			}
			val, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line+2, key, err)
			}
			row[strings.TrimSpace(key)] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}
