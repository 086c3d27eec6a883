package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
)

// WAVCodec is a pure-Go Codec over 16-bit PCM WAV files. It performs
// real sample math, so cut and concat results match what ffmpeg would
// produce on the same inputs, without requiring the binary. Tests and
// the aligner's reference path use it.
type WAVCodec struct{}

// NewWAVCodec returns the in-process WAV codec.
func NewWAVCodec() *WAVCodec {
	return &WAVCodec{}
}

// Probe returns the duration of a WAV file in seconds.
func (w *WAVCodec) Probe(_ context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	rate, samples, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	return float64(len(samples)) / float64(rate), nil
}

// Transcode re-encodes input as mono WAV at the spec's sample rate.
// Only the wav format is supported.
func (w *WAVCodec) Transcode(_ context.Context, inputPath, outputPath string, spec EncodeSpec) error {
	if spec.Format != "" && spec.Format != "wav" {
		return fmt.Errorf("wav codec cannot encode %q", spec.Format)
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	rate, samples, err := DecodeWAV(data)
	if err != nil {
		return err
	}
	if spec.SampleRate > 0 && spec.SampleRate != rate {
		samples = resample(samples, rate, spec.SampleRate)
		rate = spec.SampleRate
	}
	return os.WriteFile(outputPath, EncodeWAV(rate, samples), 0o644)
}

// CutRanges removes intervals from the input by sample arithmetic.
func (w *WAVCodec) CutRanges(_ context.Context, inputPath, outputPath string, remove []Interval, spec EncodeSpec) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	rate, samples, err := DecodeWAV(data)
	if err != nil {
		return err
	}

	duration := float64(len(samples)) / float64(rate)
	keeps := complement(remove, duration)
	if len(keeps) == 0 {
		return fmt.Errorf("cut would remove the whole stream")
	}

	var out []int16
	for _, iv := range keeps {
		lo := int(iv.Begin * float64(rate))
		hi := int(iv.End * float64(rate))
		if lo < 0 {
			lo = 0
		}
		if hi > len(samples) {
			hi = len(samples)
		}
		if lo < hi {
			out = append(out, samples[lo:hi]...)
		}
	}
	return os.WriteFile(outputPath, EncodeWAV(rate, out), 0o644)
}

// Concat joins WAV inputs by appending samples. All inputs must share
// one sample rate.
func (w *WAVCodec) Concat(_ context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no input files provided")
	}

	var (
		rate int
		out  []int16
	)
	for _, p := range inputPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		r, samples, err := DecodeWAV(data)
		if err != nil {
			return err
		}
		if rate == 0 {
			rate = r
		} else if r != rate {
			return fmt.Errorf("sample rate mismatch: %d vs %d", r, rate)
		}
		out = append(out, samples...)
	}
	return os.WriteFile(outputPath, EncodeWAV(rate, out), 0o644)
}

// DecodePCM decodes a WAV file to mono floats in [-1, 1] at the given
// sample rate.
func (w *WAVCodec) DecodePCM(_ context.Context, path string, sampleRate int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	rate, samples, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if sampleRate > 0 && sampleRate != rate {
		samples = resample(samples, rate, sampleRate)
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out, nil
}

// EncodeWAV renders mono 16-bit samples as a RIFF/WAVE byte stream.
func EncodeWAV(sampleRate int, samples []int16) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+2*i:], uint16(s))
	}
	return buf
}

// DecodeWAV parses a 16-bit PCM WAV stream, downmixing to mono.
func DecodeWAV(data []byte) (sampleRate int, samples []int16, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnreadable)
	}

	var (
		channels int
		bits     int
		pcm      []byte
	)
	// Walk chunks; fmt and data may be separated by LIST or fact chunks.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return 0, nil, fmt.Errorf("%w: short fmt chunk", ErrUnreadable)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return 0, nil, fmt.Errorf("%w: unsupported wav format %d", ErrUnreadable, format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if sampleRate == 0 || pcm == nil {
		return 0, nil, fmt.Errorf("%w: missing fmt or data chunk", ErrUnreadable)
	}
	if bits != 16 {
		return 0, nil, fmt.Errorf("%w: unsupported bit depth %d", ErrUnreadable, bits)
	}
	if channels < 1 {
		channels = 1
	}

	frames := len(pcm) / (2 * channels)
	samples = make([]int16, frames)
	for i := 0; i < frames; i++ {
		var acc int
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(pcm[2*(i*channels+c):]))
			acc += int(v)
		}
		samples[i] = int16(acc / channels)
	}
	return sampleRate, samples, nil
}

// resample maps samples to a new rate by nearest-neighbor indexing.
// Good enough for analysis; canonical audio goes through ffmpeg.
func resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}
	n := int(float64(len(samples)) * float64(to) / float64(from))
	out := make([]int16, n)
	for i := range out {
		j := int(float64(i) * float64(from) / float64(to))
		if j >= len(samples) {
			j = len(samples) - 1
		}
		out[i] = samples[j]
	}
	return out
}

var _ Codec = (*WAVCodec)(nil)
var _ Codec = (*FFmpeg)(nil)
