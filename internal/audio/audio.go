// Package audio wraps the codec tool chain behind a small interface
// so pipeline code and tests do not care whether ffmpeg is present.
package audio

import (
	"context"
	"errors"
)

// ErrUnreadable reports input the codec could not decode.
var ErrUnreadable = errors.New("audio unreadable")

// EncodeSpec describes the canonical encoding for stored audio.
type EncodeSpec struct {
	Format     string // "mp3" or "wav"
	SampleRate int    // Hz
	Bitrate    string // e.g. "128k", mp3 only
}

// Ext returns the file extension for the spec's container.
func (s EncodeSpec) Ext() string {
	if s.Format == "" {
		return "mp3"
	}
	return s.Format
}

// Interval is a half-open time range [Begin, End) in seconds.
type Interval struct {
	Begin float64
	End   float64
}

// Duration returns the interval's length in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Begin
}

// Codec performs the audio operations the pipeline needs. All paths
// are on the local filesystem; implementations must leave the output
// path untouched on failure.
type Codec interface {
	// Probe returns the duration of an audio file in seconds.
	Probe(ctx context.Context, path string) (float64, error)

	// Transcode converts input into the canonical encoding.
	Transcode(ctx context.Context, inputPath, outputPath string, spec EncodeSpec) error

	// CutRanges writes input to outputPath with the given intervals
	// removed. Intervals must be sorted, non-overlapping and within
	// the input's duration.
	CutRanges(ctx context.Context, inputPath, outputPath string, remove []Interval, spec EncodeSpec) error

	// Concat joins same-codec segments into one stream without
	// re-encoding.
	Concat(ctx context.Context, inputPaths []string, outputPath string) error

	// DecodePCM decodes a file to mono float samples in [-1, 1] at the
	// given sample rate.
	DecodePCM(ctx context.Context, path string, sampleRate int) ([]float64, error)
}

// complement returns the sorted keep intervals of [0, duration) after
// removing the given intervals.
func complement(remove []Interval, duration float64) []Interval {
	var keeps []Interval
	cursor := 0.0
	for _, iv := range remove {
		if iv.Begin > cursor {
			keeps = append(keeps, Interval{Begin: cursor, End: iv.Begin})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	if cursor < duration {
		keeps = append(keeps, Interval{Begin: cursor, End: duration})
	}
	return keeps
}
