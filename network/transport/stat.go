package transport

import (
	"time"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/metrics"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/framing"
)

var _schemeDims = map[string]metrics.Dimension{}

// schemeDim returns the cached dimension of scheme. Schemes are registered
// by the transport packages at init.
func schemeDim(scheme string) metrics.Dimension {
	if dim, ok := _schemeDims[scheme]; ok {
		return dim
	}
	return metrics.Dimension{metrics.DimScheme: scheme}
}

// RegisterScheme caches the metric dimension of a transport scheme.
func RegisterScheme(scheme string) {
	_schemeDims[scheme] = metrics.Dimension{metrics.DimScheme: scheme}
}

func directionDim(scheme string, mode framing.Mode, direction string) metrics.Dimension {
	return metrics.Dimension{
		metrics.DimScheme:    scheme,
		metrics.DimShape:     mode.String(),
		metrics.DimDirection: direction,
	}
}

func statSend(scheme string, mode framing.Mode, size int) {
	dim := directionDim(scheme, mode, "send")
	metrics.IncrCounterWithDimGroup(metrics.NameMsgSendTotal, metrics.GroupConduit, 1, dim)
	kb := metrics.Value(size) / metrics.KB
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameMsgSizeAvgKB, metrics.GroupConduit, kb, dim)
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameMsgSizeMaxKB, metrics.GroupConduit, kb, dim)
}

func statRecv(scheme string, mode framing.Mode, size int) {
	dim := directionDim(scheme, mode, "recv")
	metrics.IncrCounterWithDimGroup(metrics.NameMsgRecvTotal, metrics.GroupConduit, 1, dim)
	kb := metrics.Value(size) / metrics.KB
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameMsgSizeAvgKB, metrics.GroupConduit, kb, dim)
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameMsgSizeMaxKB, metrics.GroupConduit, kb, dim)
}

func statConnAccept(scheme string) {
	metrics.IncrCounterWithDimGroup(metrics.NameConnAcceptTotal, metrics.GroupConduit, 1, schemeDim(scheme))
}

func statConnReject(scheme, fault string) {
	metrics.IncrCounterWithDimGroup(metrics.NameConnRejectTotal, metrics.GroupConduit, 1,
		metrics.Dimension{metrics.DimScheme: scheme, metrics.DimFault: fault})
}

func statConnClose(scheme string) {
	metrics.IncrCounterWithDimGroup(metrics.NameConnCloseTotal, metrics.GroupConduit, 1, schemeDim(scheme))
}

func statDialRetry(scheme string) {
	metrics.IncrCounterWithDimGroup(metrics.NameDialRetryTotal, metrics.GroupConduit, 1, schemeDim(scheme))
}

func statPending(scheme string, n int) {
	metrics.UpdateGaugeWithDimGroup(metrics.NameListenerPending, metrics.GroupConduit, metrics.Value(n), schemeDim(scheme))
}

func statAcceptWait(scheme string, start time.Time) {
	metrics.RecordStopwatchWithDimGroup(metrics.NameAcceptWaitMS, metrics.GroupConduit, start, schemeDim(scheme))
}

func statRequest(shape channel.Shape, start time.Time) {
	metrics.RecordStopwatchWithDimGroup(metrics.NameRequestLatencyMS, metrics.GroupConduit, start,
		metrics.Dimension{metrics.DimShape: shape.String()})
}

// watchChannel counts channels reaching Opened and Faulted.
func watchChannel(ch channel.Channel) {
	dim := metrics.Dimension{metrics.DimShape: ch.Shape().String()}
	_ = ch.Subscribe(lifecycle.EventOpened, func(lifecycle.Notification) {
		metrics.IncrCounterWithDimGroup(metrics.NameChannelOpenTotal, metrics.GroupConduit, 1, dim)
	})
	_ = ch.Subscribe(lifecycle.EventFaulted, func(lifecycle.Notification) {
		metrics.IncrCounterWithDimGroup(metrics.NameChannelFaultTotal, metrics.GroupConduit, 1, dim)
	})
}
