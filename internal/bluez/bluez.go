// Package bluez drives a BlueZ adapter over the system D-Bus.
package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName         = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propertiesGet   = "org.freedesktop.DBus.Properties.Get"
	propDiscovering = "Discovering"

	PropertyRSSI = "RSSI"
)

// Adapter is one local Bluetooth controller, e.g. hci0.
type Adapter struct {
	conn   *dbus.Conn
	name   string
	path   dbus.ObjectPath
	logger *slog.Logger
}

// Open attaches to the adapter on the shared system bus connection.
// The adapter object is not probed; a missing controller shows up as
// failing discovery calls and absent devices.
func Open(name string, logger *slog.Logger) (*Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return NewAdapter(conn, name, logger), nil
}

func NewAdapter(conn *dbus.Conn, name string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		conn:   conn,
		name:   name,
		path:   AdapterPath(name),
		logger: logger.With("component", "bluez", "adapter", name),
	}
}

// Discovering reads the adapter's Discovering property.
func (a *Adapter) Discovering(ctx context.Context) (bool, error) {
	v, err := a.property(ctx, a.path, adapterIface, propDiscovering)
	if err != nil {
		return false, err
	}
	on, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("property %s has unexpected type %T", propDiscovering, v)
	}
	return on, nil
}

// StartDiscovery restricts discovery to LE transport and starts it.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	obj := a.conn.Object(busName, a.path)
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := obj.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		// older controllers reject filters; discovery still works unfiltered
		a.logger.Debug("set discovery filter failed", "error", call.Err)
	}
	if call := obj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("start discovery on %s: %w", a.name, call.Err)
	}
	return nil
}

// StopDiscovery fails when this process did not start the discovery session.
func (a *Adapter) StopDiscovery(ctx context.Context) error {
	obj := a.conn.Object(busName, a.path)
	if call := obj.CallWithContext(ctx, adapterIface+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("stop discovery on %s: %w", a.name, call.Err)
	}
	return nil
}

// DeviceProperty reads a Device1 property. found is false when the device
// object is not on the bus or does not carry the property, which is the
// normal state of a device that was not seen during discovery.
func (a *Adapter) DeviceProperty(ctx context.Context, address, name string) (value any, found bool) {
	v, err := a.property(ctx, DevicePath(a.name, address), deviceIface, name)
	if err != nil {
		a.logger.Debug("device property unavailable", "device", address, "property", name, "error", err)
		return nil, false
	}
	return v, true
}

func (a *Adapter) property(ctx context.Context, path dbus.ObjectPath, iface, name string) (any, error) {
	var variant dbus.Variant
	obj := a.conn.Object(busName, path)
	if err := obj.CallWithContext(ctx, propertiesGet, 0, iface, name).Store(&variant); err != nil {
		return nil, err
	}
	return variant.Value(), nil
}

func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath maps AA:BB:CC:DD:EE:FF on hci0 to /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func DevicePath(adapter, address string) dbus.ObjectPath {
	dev := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, dev))
}
