//go:build !darwin

package main

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Motor address format: 48-bit MAC address, colon separated\n  Example: AA:BB:CC:DD:EE:FF"
)
