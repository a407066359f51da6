package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/config"

	"tinygo.org/x/bluetooth"
)

var (
	// ErrNotFound is returned when no advertising device matches the name prefix.
	ErrNotFound = errors.New("no matching device found")
	// ErrNoSMPService is returned when the peer lacks the SMP service or characteristic.
	ErrNoSMPService = errors.New("SMP service not found")
	// ErrLinkLost is reported when the peer drops the connection.
	ErrLinkLost = errors.New("bluetooth connection lost")
)

var (
	enableOnce sync.Once
	enableErr  error

	linksMu sync.Mutex
	links   = map[string]*Link{}
)

// enable powers up the default adapter and routes disconnect callbacks
// to the link they belong to.
func enable() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	enableOnce.Do(func() {
		if err := adapter.Enable(); err != nil {
			enableErr = fmt.Errorf("failed to enable Bluetooth: %w", err)
			return
		}
		adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			addr := device.Address.String()
			linksMu.Lock()
			l := links[addr]
			delete(links, addr)
			linksMu.Unlock()
			if l != nil {
				config.Debugf("Peer %s disconnected", addr)
				l.closeWith(ErrLinkLost)
			}
		})
	})
	return adapter, enableErr
}

// ScanResult is one advertisement seen by Scan.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
}

// Scan reports named advertisers to fn until ctx ends.
func Scan(ctx context.Context, fn func(ScanResult)) error {
	adapter, err := enable()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { adapter.StopScan() })
	defer stop()

	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if name := result.LocalName(); name != "" {
			fn(ScanResult{Name: name, Address: result.Address.String(), RSSI: result.RSSI})
		}
	})
	if err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	return ctx.Err()
}

// Connect scans for the first device whose advertised name starts with
// prefix (case-insensitive) and opens an SMP link to it. The scan is
// bounded by ctx.
func Connect(ctx context.Context, prefix string) (*Link, error) {
	adapter, err := enable()
	if err != nil {
		return nil, err
	}

	config.Debugf("Scanning for %q...", prefix)
	want := strings.ToLower(prefix)

	var deviceResult bluetooth.ScanResult
	var found bool

	stop := context.AfterFunc(ctx, func() { adapter.StopScan() })
	err = adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if config.Verbose && name != "" {
			config.Debugf("  Found: '%s' (%s)", name, result.Address.String())
		}
		if name != "" && strings.HasPrefix(strings.ToLower(name), want) && !found {
			deviceResult = result
			found = true
			adapter.StopScan()
		}
	})
	stop()
	if err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	if !found {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrNotFound, prefix, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, prefix)
	}

	name := deviceResult.LocalName()
	config.Debugf("Connecting to %s (%s)...", name, deviceResult.Address.String())

	device, err := adapter.Connect(deviceResult.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	link, err := setup(device, name)
	if err != nil {
		device.Disconnect()
		return nil, err
	}
	if ctx.Err() != nil {
		link.Close()
		return nil, ctx.Err()
	}

	linksMu.Lock()
	links[device.Address.String()] = link
	linksMu.Unlock()
	return link, nil
}

// setup discovers the SMP characteristic and subscribes to its notifications.
func setup(device bluetooth.Device, name string) (*Link, error) {
	config.Debugf("Discovering services...")

	allServices, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	var smpService *bluetooth.DeviceService
	for i := range allServices {
		uuidStr := allServices[i].UUID().String()
		if strings.EqualFold(uuidStr, SMPServiceUUID) {
			smpService = &allServices[i]
			config.Debugf("Found SMP service: %s", uuidStr)
			break
		}
	}
	if smpService == nil {
		return nil, ErrNoSMPService
	}

	chars, err := smpService.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	var smpChar *bluetooth.DeviceCharacteristic
	for i := range chars {
		uuidStr := chars[i].UUID().String()
		config.Debugf("Found characteristic: %s", uuidStr)
		if strings.EqualFold(uuidStr, SMPCharUUID) {
			smpChar = &chars[i]
		}
	}
	if smpChar == nil {
		return nil, fmt.Errorf("%w: characteristic %s missing", ErrNoSMPService, SMPCharUUID)
	}

	mtu := defaultMTU
	if m, err := smpChar.GetMTU(); err == nil && m > 0 {
		mtu = int(m)
	}
	config.Debugf("Negotiated MTU: %d", mtu)

	l := newLink(name, mtu, smpChar.WriteWithoutResponse, device.Disconnect)
	if err := smpChar.EnableNotifications(l.deliver); err != nil {
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}
	time.Sleep(notifySettle)
	return l, nil
}
