// Package device defines the transport contract shared by the sensor links
// and the error taxonomy they report.
//
// Two implementations live in subpackages:
//   - go-ble: Bluetooth Low Energy, scan by advertised name and subscribe to
//     one GATT characteristic
//   - classic: Bluetooth Classic serial (RFCOMM) to a bonded device
//
// The connector drives either one through the same lifecycle
// (Idle, Scanning, Connecting, Subscribed, Disconnected).
package device
