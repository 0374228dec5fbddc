// Package metrics defines metric records and fans them out to reporters.
package metrics

// Policy defines how multiple values for the same metric are combined over a window.
type Policy int

const (
	Policy_None      Policy = iota // no specific aggregation policy
	Policy_Set                     // last reported value wins
	Policy_Sum                     // values are summed
	Policy_Avg                     // values are averaged
	Policy_Max                     // maximum value wins
	Policy_Min                     // minimum value wins
	Policy_Stopwatch               // durations, averaged
)

// Value represents a metric value.
type Value float64

// Dimension holds metric labels.
type Dimension map[string]string

const (
	// KB is a kilobyte.
	KB = 1024.0
	// MB is a megabyte.
	MB = 1024.0 * 1024.0
)

// GroupConduit groups every metric emitted by the channel stack.
const GroupConduit = "conduit"

// Metric names.
const (
	// NamePoolCreateTotal counts objects created because a pool was empty.
	// dimension:poolname
	NamePoolCreateTotal = "pool_create_total"

	// NameConnAcceptTotal counts raw connections accepted by a listener.
	// dimension:scheme
	NameConnAcceptTotal = "transport_conn_accept_total"

	// NameConnRejectTotal counts connections dropped during preamble negotiation.
	// dimension:scheme,fault
	NameConnRejectTotal = "transport_conn_reject_total"

	// NameConnCloseTotal counts connections closed by either side.
	// dimension:scheme
	NameConnCloseTotal = "transport_conn_close_total"

	// NameDialRetryTotal counts dial attempts that were retried.
	// dimension:scheme
	NameDialRetryTotal = "transport_dial_retry_total"

	// NameListenerPending is the number of accepted connections waiting for AcceptChannel.
	// dimension:scheme
	NameListenerPending = "listener_pending"

	// NameAcceptWaitMS is the time callers spent blocked in AcceptChannel.
	// dimension:scheme
	NameAcceptWaitMS = "listener_accept_wait_ms"

	// NameChannelOpenTotal counts channels that reached Opened.
	// dimension:shape
	NameChannelOpenTotal = "channel_open_total"

	// NameChannelFaultTotal counts channels that entered Faulted.
	// dimension:shape
	NameChannelFaultTotal = "channel_fault_total"

	// NameMsgSendTotal counts messages written to a connection.
	// dimension:shape
	NameMsgSendTotal = "channel_msg_send_total"

	// NameMsgRecvTotal counts messages read from a connection.
	// dimension:shape
	NameMsgRecvTotal = "channel_msg_recv_total"

	// NameMsgSizeAvgKB is the average encoded message size.
	// dimension:shape,direction
	NameMsgSizeAvgKB = "channel_msg_size_avg_KB"

	// NameMsgSizeMaxKB is the largest encoded message size.
	// dimension:shape,direction
	NameMsgSizeMaxKB = "channel_msg_size_max_KB"

	// NameRequestLatencyMS is the round trip time of Request calls.
	// dimension:shape
	NameRequestLatencyMS = "channel_request_latency_ms"

	// NameThrottleWaitMS is the time spent waiting on a throttle token.
	NameThrottleWaitMS = "throttle_wait_ms"
)

// Dimension keys.
const (
	DimPoolName  = "poolname"
	DimScheme    = "scheme"
	DimShape     = "shape"
	DimDirection = "direction"
	DimFault     = "fault"
)
