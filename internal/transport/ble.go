package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BLEConfig identifies the peripheral and the GATT endpoints to use. The
// device is matched by address if set, otherwise by advertised local name.
// ControlCharacteristic receives the command sequences; when empty, the
// data characteristic is used for writes as well.
type BLEConfig struct {
	Address               string
	Name                  string
	Service               string
	DataCharacteristic    string
	ControlCharacteristic string
	ScanTimeout           time.Duration
}

// BLE is a Transport over a Bluetooth Low Energy notification
// characteristic.
type BLE struct {
	cfg     BLEConfig
	adapter *bluetooth.Adapter

	device    bluetooth.Device
	connected bool
	dataChar  bluetooth.DeviceCharacteristic
	ctrlChar  bluetooth.DeviceCharacteristic

	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewBLE creates a BLE transport on the default adapter.
func NewBLE(cfg BLEConfig) *BLE {
	return &BLE{
		cfg:     cfg,
		adapter: bluetooth.DefaultAdapter,
		chunks:  make(chan []byte, chunkBufferDepth),
		done:    make(chan struct{}),
	}
}

func (b *BLE) String() string {
	if b.cfg.Address != "" {
		return fmt.Sprintf("ble device %s", b.cfg.Address)
	}
	return fmt.Sprintf("ble device %q", b.cfg.Name)
}

// Open enables the adapter, scans for the configured peripheral, connects
// and subscribes to notifications on the data characteristic.
func (b *BLE) Open(ctx context.Context) error {
	serviceUUID, err := bluetooth.ParseUUID(b.cfg.Service)
	if err != nil {
		return fmt.Errorf("%w: service uuid %q: %v", ErrConnectFailed, b.cfg.Service, err)
	}
	dataUUID, err := bluetooth.ParseUUID(b.cfg.DataCharacteristic)
	if err != nil {
		return fmt.Errorf("%w: data characteristic uuid %q: %v", ErrConnectFailed, b.cfg.DataCharacteristic, err)
	}
	ctrlUUID := dataUUID
	if b.cfg.ControlCharacteristic != "" {
		ctrlUUID, err = bluetooth.ParseUUID(b.cfg.ControlCharacteristic)
		if err != nil {
			return fmt.Errorf("%w: control characteristic uuid %q: %v", ErrConnectFailed, b.cfg.ControlCharacteristic, err)
		}
	}

	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %v", ErrConnectFailed, err)
	}

	result, err := b.scan(ctx)
	if err != nil {
		return err
	}

	device, err := b.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("%w: connect to %s: %v", ErrConnectFailed, result.Address.String(), err)
	}
	b.device = device
	b.connected = true

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		b.teardown()
		return fmt.Errorf("%w: service %s not found: %v", ErrConnectFailed, serviceUUID.String(), err)
	}

	uuids := []bluetooth.UUID{dataUUID}
	if ctrlUUID != dataUUID {
		uuids = append(uuids, ctrlUUID)
	}
	chars, err := services[0].DiscoverCharacteristics(uuids)
	if err != nil || len(chars) == 0 {
		b.teardown()
		return fmt.Errorf("%w: characteristics not found: %v", ErrConnectFailed, err)
	}
	found := map[bluetooth.UUID]bool{}
	for _, c := range chars {
		switch c.UUID() {
		case dataUUID:
			b.dataChar = c
			found[dataUUID] = true
		case ctrlUUID:
			b.ctrlChar = c
			found[ctrlUUID] = true
		}
	}
	if !found[dataUUID] || !found[ctrlUUID] {
		b.teardown()
		return fmt.Errorf("%w: required characteristics missing on %s", ErrConnectFailed, result.Address.String())
	}

	err = b.dataChar.EnableNotifications(func(buf []byte) {
		chunk := make([]byte, len(buf))
		copy(chunk, buf)
		// Dropping data is worse than briefly blocking the BLE stack's
		// callback goroutine, so delivery blocks until the consumer
		// catches up or the transport closes.
		select {
		case b.chunks <- chunk:
		case <-b.done:
		}
	})
	if err != nil {
		b.teardown()
		return fmt.Errorf("%w: enable notifications: %v", ErrConnectFailed, err)
	}

	return nil
}

func (b *BLE) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	timeout := b.cfg.ScanTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	go func() {
		<-scanCtx.Done()
		b.adapter.StopScan()
	}()

	err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !b.matches(result) {
			return
		}
		// Publish before StopScan: Scan can return the moment scanning
		// stops, and the result must already be readable by then.
		select {
		case found <- result:
		default:
		}
		adapter.StopScan()
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("%w: scan: %v", ErrConnectFailed, err)
	}

	select {
	case result := <-found:
		return result, nil
	default:
		return bluetooth.ScanResult{}, fmt.Errorf("%w: device %s not found within %v",
			ErrConnectFailed, b, timeout)
	}
}

func (b *BLE) matches(result bluetooth.ScanResult) bool {
	if b.cfg.Address != "" {
		return strings.EqualFold(result.Address.String(), b.cfg.Address)
	}
	return b.cfg.Name != "" && result.LocalName() == b.cfg.Name
}

// Chunks returns the notification channel.
func (b *BLE) Chunks() <-chan []byte {
	return b.chunks
}

// Write sends raw command bytes to the control characteristic.
func (b *BLE) Write(p []byte) (int, error) {
	if !b.connected {
		return 0, fmt.Errorf("ble device not connected")
	}
	return b.ctrlChar.WriteWithoutResponse(p)
}

func (b *BLE) teardown() {
	if b.connected {
		b.device.Disconnect()
		b.connected = false
	}
}

// Close disconnects from the peripheral and closes the chunk channel.
func (b *BLE) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.teardown()
		close(b.chunks)
	})
	return nil
}
