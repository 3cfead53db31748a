// Package link owns the transport to the remote structure-design engine.
//
// A Link carries one strictly alternating request/reply exchange at a
// time: Send writes one multi-part message, Receive waits for the matching
// reply or the receive timeout. Multi-part boundaries come from the frame
// layer (one frame per message, one TLV string field per segment), so no
// text length prefix is needed.
//
// Ownership boundary:
// - dialing, TLS and reconnect backoff
// - framing of text segments
// - receive timeout and stale-reply discard
//
// Serializing callers is not this package's job; see engine.Dispatcher.
package link
