// Package canlin implements an event-driven runtime for building CAN bus
// node applications on Linux.
//
// The root package holds the transport driver: a Bus connects to a
// SocketCAN network interface, runs a background receive loop and hands
// every frame to a callback supplied at construction. Subpackage timer
// provides software timers for periodic work, subpackage keys raw-mode
// keyboard input, and subpackage node the application shell that wires
// the three drivers together the way the examples use them.
//
// Classical CAN only: standard (11-bit) and extended (29-bit) addressing
// with 0-8 byte payloads. CAN FD, receive filtering and delivery
// guarantees beyond the kernel socket are out of scope.
package canlin
