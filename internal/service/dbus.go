package service

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ActiveStates queries systemd over the session bus for the
// ActiveState of each instance's unit. Instances whose unit is not
// loaded are omitted from the result rather than reported as errors.
func ActiveStates(instances []string) (map[string]string, error) {
	result := make(map[string]string)
	if len(instances) == 0 {
		return result, nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return result, fmt.Errorf("session bus: %w", err)
	}

	for _, instance := range instances {
		unit := UnitName(instance)
		path, err := getUnitPath(conn, unit)
		if err != nil {
			continue
		}
		state, err := getActiveState(conn, path)
		if err != nil {
			continue
		}
		result[instance] = state
	}
	return result, nil
}

func getUnitPath(conn *dbus.Conn, unit string) (dbus.ObjectPath, error) {
	obj := conn.Object("org.freedesktop.systemd1", "/org/freedesktop/systemd1")
	call := obj.Call("org.freedesktop.systemd1.Manager.GetUnit", 0, unit)
	if call.Err != nil {
		return "", call.Err
	}
	path, ok := call.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("unexpected unit path type")
	}
	return path, nil
}

func getActiveState(conn *dbus.Conn, path dbus.ObjectPath) (string, error) {
	obj := conn.Object("org.freedesktop.systemd1", path)
	variant, err := obj.GetProperty("org.freedesktop.systemd1.Unit.ActiveState")
	if err != nil {
		return "", err
	}
	state, _ := variant.Value().(string)
	return state, nil
}
