// Package protocol owns the scene-graph wire contract.
//
// Ownership boundary:
// - frame: fixed header, correlation id, response/error flags
// - tlv: typed envelope fields
// - schema: required envelope fields per message type
// - wire: signal / method-call / method-return envelopes
// - payload: CBOR argument and reply bodies
// - session: connection timeouts, backoff, transport security
package protocol
