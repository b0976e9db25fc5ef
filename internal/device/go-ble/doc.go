// Package goble implements the device transport boundary with github.com/go-ble/ble.
//
// Supported hosts are macOS (CoreBluetooth) and Linux (HCI socket).
package goble
