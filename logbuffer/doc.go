// Package logbuffer implements the term-buffer log shared between a publisher
// and any number of reader processes.
//
// # Layout
//
// A log is three equal, power-of-two sized term partitions followed by a
// metadata page:
//
//	+----------+----------+----------+-----------+
//	|  term 0  |  term 1  |  term 2  | metadata  |
//	+----------+----------+----------+-----------+
//
// The metadata page holds one packed tail counter per partition
// ((termID << 32) | rawOffset), the active term count, the initial term id,
// the time of the last status message, and the default frame header.
//
// # Positions
//
// A stream position is the total number of bytes published since the stream
// was created. Given the term length and the initial term id, a position maps
// to a (term id, term offset) pair and back; see ComputePosition and TermID.
// The partition holding a term is chosen from the term count
// (termID - initialTermID) so it stays consistent across int32 wrap.
//
// # Appending
//
// Writers reserve space with a single atomic fetch-and-add on the active
// partition's tail counter. The reservation either fits in the term, lands
// after the term was already exhausted, or straddles the end. The writer that
// straddles the end writes a padding frame over the remainder so that every
// byte of a term is covered by a frame, then the publication rotates the log
// to the next partition.
//
// A frame's length field is stored last, with an atomic store, after the
// header and payload are written. Until then it carries the negated length so
// readers treat the frame as not yet committed.
//
// # Platform
//
// Frame headers are little-endian and are written in place with native atomic
// stores, so only little-endian platforms are supported. Memory mapped logs
// require a unix platform.
package logbuffer
