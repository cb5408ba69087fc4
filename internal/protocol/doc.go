// Package protocol owns the trace control wire contract and parsing
// primitives.
//
// Ownership boundary:
// - fixed header and command table
// - message assembly, send and receive paths
// - option record primitives
//
// Frames are length-prefixed and big-endian. Every declared size is
// validated against MaxFrameLen before any allocation or body read.
package protocol
