// Package metrics provides Prometheus metrics for the lens playback
// pipeline and the stream source. Labels are bounded enums; no session or
// stream identifiers are used as label values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used with IngestDropsTotal and FramesDroppedTotal.
const (
	ReasonBackpressure = "backpressure"
	ReasonMailbox      = "mailbox"
	ReasonStopped      = "stopped"
	ReasonQueueFull    = "queue_full"
	ReasonNoDimensions = "no_dimensions"
	ReasonShortBuffer  = "short_buffer"
	ReasonSinkError    = "sink_error"
)

// Result labels for DecodePacketsTotal, DecoderInitsTotal and
// StreamHeadersTotal.
const (
	ResultSubmitted = "submitted"
	ResultNoDecoder = "no_decoder"
	ResultOversized = "oversized"
	ResultError     = "error"
	ResultOK        = "ok"
	ResultException = "exception"
	ResultMalformed = "malformed"
)

var (
	// IngestPacketsTotal counts chunks forwarded downstream as packets.
	IngestPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_ingest_packets_total",
		Help: "Total number of encoded packets forwarded by ingest.",
	})

	// IngestBytesTotal counts every byte read from the transport.
	IngestBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_ingest_bytes_total",
		Help: "Total number of bytes received from the stream connection.",
	})

	// IngestDropsTotal counts chunks dropped before reaching the decoder.
	IngestDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_ingest_drops_total",
		Help: "Total number of encoded packets dropped by ingest, by reason.",
	}, []string{"reason"})

	// StreamHeadersTotal counts stream headers by result.
	StreamHeadersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_stream_headers_total",
		Help: "Total number of in-band stream headers, by result (ok/exception/malformed).",
	}, []string{"result"})

	// DecoderInitsTotal counts decode engine initializations by result.
	DecoderInitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_decoder_inits_total",
		Help: "Total number of decode engine initializations, by result (ok/error).",
	}, []string{"result"})

	// DecodePacketsTotal counts packets reaching the orchestrator by result.
	DecodePacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_decode_packets_total",
		Help: "Total number of packets handled by the decode orchestrator, by result.",
	}, []string{"result"})

	// FramesDecodedTotal counts frames produced by the decode engine.
	FramesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_frames_decoded_total",
		Help: "Total number of decoded frames emitted by the decode engine.",
	})

	// FramesRenderedTotal counts frames handed to the render sink.
	FramesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_frames_rendered_total",
		Help: "Total number of frames uploaded to the render sink.",
	})

	// FramesDroppedTotal counts decoded frames that were never rendered.
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_frames_dropped_total",
		Help: "Total number of decoded frames dropped by the presentation scheduler, by reason.",
	}, []string{"reason"})

	// PresentationQueueDepth tracks frames waiting for the next redraw.
	PresentationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_presentation_queue_depth",
		Help: "Current number of decoded frames waiting in the presentation queue.",
	})

	// SessionState tracks the lifecycle state (0 idle, 1 playing, 2 closing).
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_session_state",
		Help: "Current playback lifecycle state: 0 idle, 1 playing, 2 closing.",
	})

	// SourceConnections tracks players connected to the stream source.
	SourceConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_source_connections",
		Help: "Current number of players receiving a stream from the source.",
	})

	// SourceMessagesTotal counts headers and access units sent by the source.
	SourceMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_source_messages_total",
		Help: "Total number of stream messages sent by the source.",
	})

	// SourceBytesTotal counts bytes written by the source, framing included.
	SourceBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_source_bytes_total",
		Help: "Total number of bytes sent by the source.",
	})
)
