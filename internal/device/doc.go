// Package device defines the GATT transport boundary used by the PM5 session.
//
// The boundary is intentionally narrow:
//   - Transport selects a peripheral (by advertised service or address) and opens a Link
//   - Link resolves primary services and reports when the connection is gone
//   - Service resolves characteristics
//   - Characteristic supports reads and notification delivery
//
// Concrete implementations live in sub-packages (see go-ble).
package device
