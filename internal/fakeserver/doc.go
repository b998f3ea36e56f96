// Package fakeserver is an in-process scene-graph server.
//
// It speaks the same framed protocol as a real compositor and keeps a small
// object model: spatials, sphere and box fields, models, pulse senders and
// pulse receivers. Each client sees its own root at "/"; every other path is
// shared, so objects created by one client can be queried or reparented by
// another. Pulse senders are told about every receiver whose mask carries
// the sender's mask, and are told again when that receiver goes away.
//
// Every frame a client sends is recorded for inspection by tests.
package fakeserver
