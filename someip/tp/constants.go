// Package tp implements the SOME/IP-TP segmenter, reassembler, assembler
// mapping and reception controller described by spec.md §4.2-§4.4.
package tp

import "time"

const (
	// MinTpSegmentLength is the smallest max_segment_length accepted by
	// Segment: it must leave room for at least one 16-byte payload chunk.
	MinTpSegmentLength = someipHeaderBytesComputedInLengthField + 16

	// MaxTpSegmentLength is the largest max_segment_length accepted by
	// Segment, by UDP MTU convention.
	MaxTpSegmentLength = 1400

	// MaxTpSegmentPayload is the largest segment payload conventionally
	// used for UDP MTU-conforming deployments.
	MaxTpSegmentPayload = 1392

	// someipHeaderBytesComputedInLengthField mirrors
	// someip.HeaderBytesComputedInLengthField without importing the
	// someip package purely for a constant (kept local to avoid an
	// import cycle risk as this package grows); see AssemblerMapping's
	// use of the someip package directly for everything else.
	someipHeaderBytesComputedInLengthField = 8

	// tpHeaderBytes is the TP header size, mirroring someip.TpHeaderSize.
	tpHeaderBytes = 4

	// alignment is the required byte alignment for segment offsets and,
	// for all but the last segment, segment payload length.
	alignment = 16

	// minTimerPeriod is the 1ms floor below which some host platforms
	// cannot honor timer resolution cleanly; segment pacing scales burst
	// size up rather than requesting a finer period.
	minTimerPeriod = time.Millisecond
)
