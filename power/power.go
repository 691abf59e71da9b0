// Package power talks to the power/telemetry microcontroller over Modbus
// RTU. The board switches the mount and camera supply rails and reports
// battery voltage and AC mains state.
package power

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ridgeline-obs/obsd/internal/modbus"
)

const (
	coilMountRail = iota
	coilCameraRail
)

type Status struct {
	BatteryVolts float64
	BoardTempC   float64

	ACPresent bool

	CommandMountRail  bool
	CommandCameraRail bool
	MountActive       bool
	CameraActive      bool
}

type StatusCallback func(status Status)

type Client struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         *modbus.Client
	polled         bool
	battery        uint16
	boardTemp      int16
	coils          []bool
	inputs         []bool
}

// Connect opens the board and starts the background poll loop. The callback
// may be nil.
func Connect(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*Client, error) {
	c := &Client{
		client: &modbus.Client{
			Port:     port,
			BaudRate: baud,
			SlaveId:  1,
		},
		statusCallback: statusCallback,
	}
	c.client.Poll = c.pollOnce
	return c, c.client.Connect(ctx)
}

func (c *Client) pollOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Input register 0 is battery voltage in centivolts, 1 is board
	// temperature in tenths of a degree C.
	results, err := c.client.ReadInputRegisters(0, 2)
	if err != nil {
		return err
	}
	c.battery = binary.BigEndian.Uint16(results)
	c.boardTemp = int16(binary.BigEndian.Uint16(results[2:]))

	coils, err := c.client.ReadCoils(0, 2)
	if err != nil {
		return err
	}
	// Discrete input 0 is AC mains present, 1 and 2 are rail feedback.
	inputs, err := c.client.ReadDiscreteInputs(0, 3)
	if err != nil {
		return err
	}
	c.coils = modbus.BytesToBits(coils)
	c.inputs = modbus.BytesToBits(inputs)
	c.polled = true
	c.notifyStatus()
	return nil
}

func (c *Client) notifyStatus() {
	if c.statusCallback == nil {
		return
	}
	status := c.parseRegisters()
	c.statusCallback(status)
}

func (c *Client) parseRegisters() Status {
	return Status{
		BatteryVolts: float64(c.battery) / 100,
		BoardTempC:   float64(c.boardTemp) / 10,

		ACPresent: c.inputs[0],

		CommandMountRail:  c.coils[coilMountRail],
		CommandCameraRail: c.coils[coilCameraRail],
		MountActive:       c.inputs[1],
		CameraActive:      c.inputs[2],
	}
}

// Latest returns the most recent telemetry snapshot. ok is false until the
// first successful poll.
func (c *Client) Latest() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.polled {
		return Status{}, false
	}
	return c.parseRegisters(), true
}

// Rails switches both supply rails together. The sequencer powers them up
// entering Ready and down during Housekeeping.
func (c *Client) Rails(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.client.WriteCoil(coilMountRail, on); err != nil {
		return err
	}
	return c.client.WriteCoil(coilCameraRail, on)
}
