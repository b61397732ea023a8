package lib

import "github.com/prometheus/client_golang/prometheus"

// Counters over the send, receive, and teardown paths. They are always
// incremented; hosts that scrape them call RegisterMetrics, everyone else
// pays a counter bump and nothing more.
var (
	segmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_segments_sent_total",
		Help: "Data segments handed to the datagram layer, retransmissions included.",
	})
	controlSegmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_control_segments_sent_total",
		Help: "Pure ACK and FIN segments handed to the datagram layer.",
	})
	segmentsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_segments_received_total",
		Help: "Well-formed segments accepted by the receive path.",
	})
	retransmitPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_retransmit_passes_total",
		Help: "RTO expiries that replayed the send window or the FIN.",
	})
	malformedDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_malformed_drops_total",
		Help: "Frames dropped for length mismatch or checksum failure.",
	})
	windowDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_window_drops_total",
		Help: "Data segments dropped because the receive window was full.",
	})
	outOfOrderDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_out_of_order_drops_total",
		Help: "Data segments dropped because their seqno was not the next expected byte.",
	})
	duplicateReacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_duplicate_reacks_total",
		Help: "ACK retransmissions triggered by a duplicate in-order segment.",
	})
	connectionsDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rdt_connections_destroyed_total",
		Help: "Connections torn down, gracefully or by budget exhaustion.",
	})
)

// RegisterMetrics registers the protocol counters with r.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		segmentsSent,
		controlSegmentsSent,
		segmentsReceived,
		retransmitPasses,
		malformedDrops,
		windowDrops,
		outOfOrderDrops,
		duplicateReacks,
		connectionsDestroyed,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
