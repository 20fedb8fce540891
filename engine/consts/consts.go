package consts

import "time"

// Protocol limits
const (
	// MAX_TICKRATE is the highest frame rate (Hz) a receiver will ever accept
	MAX_TICKRATE = 60
	// DEFAULT_TICKRATE is the rate a sender requests when nothing is configured
	DEFAULT_TICKRATE = 30
	// MAX_BONES is the maximum number of bone rotations carried by one agent frame
	MAX_BONES = 64
	// REORDER_BUFFER_CAPACITY is the number of out-of-order P-frames held per logical stream
	REORDER_BUFFER_CAPACITY = 3
	// IFRAME_INTERVAL_TICKS is the number of sender ticks between two agent I-frames
	IFRAME_INTERVAL_TICKS = 60
	// MAX_CONTROL_MESSAGE_SIZE is the largest declared length accepted on the control stream
	MAX_CONTROL_MESSAGE_SIZE = 8
	// MAX_TRANSPORT_DATAGRAM_SIZE is the upper bound of one datagram payload; QUIC datagrams must fit one packet
	MAX_TRANSPORT_DATAGRAM_SIZE = 1150
)

// Tunable Options
const (
	// PFRAME_APPLY_PACING is the pause between two P-frames released by one reorder buffer insert
	PFRAME_APPLY_PACING = time.Millisecond * 2
	// DATAGRAM_SEND_QUEUE_SIZE is the number of datagrams a connection queues before dropping
	DATAGRAM_SEND_QUEUE_SIZE = 64
	// DATAGRAM_RECV_QUEUE_SIZE is the number of received datagrams buffered by stream based transports
	DATAGRAM_RECV_QUEUE_SIZE = 256
	// EVENT_QUEUE_SIZE is the capacity of the presentation event channel
	EVENT_QUEUE_SIZE = 1024
	// CONNECT_RETRY_INTERVAL is the delay before redialing a configured peer
	CONNECT_RETRY_INTERVAL = time.Second * 3
	// HANDSHAKE_TIMEOUT bounds the tickrate handshake and stream opening
	HANDSHAKE_TIMEOUT = time.Second * 10
	// IDLE_TIMEOUT closes transport connections without any traffic
	IDLE_TIMEOUT = time.Second * 30
	// SEND_TICK_WARN_THRESHOLD logs send loop iterations slower than this
	SEND_TICK_WARN_THRESHOLD = time.Millisecond * 20
	// CPU_SAMPLE_INTERVAL is the default interval of process cpu sampling
	CPU_SAMPLE_INTERVAL = time.Second * 10
)

// Debug Options
const (
	// DEBUG_FRAMES prints every frame sent and received
	DEBUG_FRAMES = false
	// DEBUG_REORDER prints reorder buffer decisions
	DEBUG_REORDER = false
	// DEBUG_OWNERSHIP prints ownership claims and releases
	DEBUG_OWNERSHIP = false
	// DEBUG_SESSIONS prints session lifecycle details
	DEBUG_SESSIONS = false
)

//  System level configurations
const (
	// DEBUG_MODE = true turns on debug mode
	DEBUG_MODE = false
)
