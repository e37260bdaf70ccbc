/*
Package publication implements the publisher handle over a term log.

A Publication appends messages to one stream (channel, stream id, session id)
with Offer or TryClaim. Both return the new stream position on success or one
of the negative result codes:

	NotConnected        -1  no consumer is attached
	BackPressured       -2  the publication limit would be passed
	AdminAction         -3  a rotation was in progress; retry
	Closed              -4  the publication was disposed
	MaxPositionExceeded -5  the stream has reached its maximum position
	InvalidLength       -6  the message is too long for the stream

No goroutines, locks or allocations are involved on the data path. Many
goroutines may offer on the same publication at once; they only meet at the
atomic add on the active term's tail counter. With metrics enabled each call
also increments one pre-resolved result counter.

Handles for the same stream share one reference count. Every IncRef or Share
must be balanced by a Dispose; the last Dispose closes all handles and tells
the Coordinator to release the log. Offers on any handle must have stopped
before that last Dispose.
*/
package publication
