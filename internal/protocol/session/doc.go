// Package session owns connection policy shared by every transport.
//
// Ownership boundary:
// - connect/write timeouts
// - dial retry backoff
// - transport security mode and TLS material
package session
