/*
Package gwsync replicates the poses of avatars and shared objects between peers in real time.

Every peer runs a session.Manager. The manager keeps one Session per connected peer and each Session
carries one direction of replication per side over a single transport connection (QUIC, or KCP with smux).

Frames

Poses are sent as two kinds of frames. An I-frame is a keyframe carrying an absolute, losslessly encoded
pose; it travels on a reliable unidirectional stream. A P-frame carries the quantized difference to the
most recent I-frame and travels as an unreliable datagram. P-frames may arrive out of order, so every
logical stream on the receiving side passes them through a small reorder buffer before they are applied.

Tickrate

Before any frame is sent, each side asks the other for a tickrate on a bidirectional control stream.
The receiver clamps the requested rate to its own maximum and both sides use the clamped rate.

Ownership

Shared objects are published only by their owner. Ownership is kept in a last-writer-wins register
replicated by claim and release messages; ties are broken by the peer id.

Run a peer

	gwsync -configfile gwsync.ini -demo

See gwsync.ini.sample for the configuration options.
*/
package gwsync
