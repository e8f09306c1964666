package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tickvault"

// Feed metrics.
var (
	FeedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_total",
			Help:      "Binary frames received from the feed",
		},
		[]string{"connection"},
	)

	FeedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Decoded events by kind",
		},
		[]string{"connection", "kind"},
	)

	FeedDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_decode_errors_total",
			Help:      "Frames that did not decode into a known event",
		},
		[]string{"connection"},
	)

	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=subscribing 4=streaming 5=reconnecting)",
		},
		[]string{"connection"},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Reconnect attempts after a transport failure",
		},
		[]string{"connection"},
	)

	FeedSubscribed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribed_instruments",
			Help:      "Instruments in the tracked subscription set",
		},
		[]string{"connection"},
	)
)

// Broker metrics.
var (
	BrokerPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_published_total",
			Help:      "Events published to live subscribers",
		},
		[]string{"publisher"},
	)

	BrokerPublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publish_errors_total",
			Help:      "Failed best-effort publishes",
		},
		[]string{"publisher"},
	)

	BrokerAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_appended_total",
			Help:      "Entries appended to the durable log",
		},
	)

	BrokerAppendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_append_retries_total",
			Help:      "Append attempts that failed and were retried",
		},
	)

	BrokerAppendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_append_errors_total",
			Help:      "Appends that failed after all retries",
		},
	)
)

// Consumer metrics.
var (
	ConsumerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_entries_total",
			Help:      "Log entries handled by phase (replay, claim, tail)",
		},
		[]string{"phase"},
	)

	ConsumerDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_dropped_total",
			Help:      "Entries acknowledged without being written",
		},
		[]string{"reason"},
	)

	ConsumerBuffered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumer_buffered_rows",
			Help:      "Rows waiting for the next flush",
		},
		[]string{"class"},
	)

	ConsumerAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_acked_total",
			Help:      "Entries acknowledged to the log",
		},
	)

	ConsumerFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consumer_flush_duration_seconds",
			Help:      "Time to write and acknowledge one flush",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Writer metrics.
var (
	WriterRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_rows_total",
			Help:      "Rows upserted",
		},
		[]string{"table"},
	)

	WriterChunkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_chunk_errors_total",
			Help:      "Chunks that failed after all retries",
		},
		[]string{"table"},
	)

	WriterDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_collapsed_rows_total",
			Help:      "Rows collapsed into a later row with the same key and ltt",
		},
		[]string{"table"},
	)
)

// Router metrics.
var RouterRouted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_routed_total",
		Help:      "Events classified by destination",
	},
	[]string{"class"},
)

func init() {
	prometheus.MustRegister(FeedFrames, FeedEvents, FeedDecodeErrors, FeedState, FeedReconnects, FeedSubscribed)
	prometheus.MustRegister(BrokerPublished, BrokerPublishErrors, BrokerAppended, BrokerAppendRetries, BrokerAppendErrors)
	prometheus.MustRegister(ConsumerEntries, ConsumerDropped, ConsumerBuffered, ConsumerAcked, ConsumerFlushDuration)
	prometheus.MustRegister(WriterRows, WriterChunkErrors, WriterDuplicates)
	prometheus.MustRegister(RouterRouted)
}
