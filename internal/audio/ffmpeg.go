package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FFmpeg is the production Codec backed by the ffmpeg and ffprobe
// binaries on PATH.
type FFmpeg struct{}

// NewFFmpeg returns the ffmpeg-backed codec.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{}
}

// CheckAvailable verifies ffmpeg and ffprobe are on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// Probe returns the duration of an audio file in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %v", ErrUnreadable, err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

// Transcode converts input into the canonical encoding.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, spec EncodeSpec) error {
	args := []string{"-i", inputPath}
	args = append(args, encodeArgs(spec)...)
	args = append(args, "-y", outputPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CodecError{Op: "transcode", Err: err, Stderr: stderrTail(output)}
	}
	return nil
}

// CutRanges removes intervals from the input by trimming the keep
// segments and concatenating them through a filtergraph, then
// re-encoding to the canonical format.
func (f *FFmpeg) CutRanges(ctx context.Context, inputPath, outputPath string, remove []Interval, spec EncodeSpec) error {
	if len(remove) == 0 {
		return f.Transcode(ctx, inputPath, outputPath, spec)
	}

	duration, err := f.Probe(ctx, inputPath)
	if err != nil {
		return err
	}

	keeps := complement(remove, duration)
	if len(keeps) == 0 {
		return fmt.Errorf("cut would remove the whole stream")
	}

	filter := buildCutFilter(keeps)

	args := []string{
		"-i", inputPath,
		"-filter_complex", filter,
		"-map", "[out]",
	}
	args = append(args, encodeArgs(spec)...)
	args = append(args, "-y", outputPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CodecError{Op: "cut", Err: err, Stderr: stderrTail(output)}
	}
	return nil
}

// Concat joins segments with the concat demuxer. Streams are copied,
// so all inputs must share one codec.
func (f *FFmpeg) Concat(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no input files provided")
	}

	// Single file case - just copy
	if len(inputPaths) == 1 {
		data, err := os.ReadFile(inputPaths[0])
		if err != nil {
			return fmt.Errorf("failed to read single input file: %w", err)
		}
		return os.WriteFile(outputPath, data, 0o644)
	}

	// The concat demuxer requires escaped paths in a list file
	listPath := outputPath + ".txt"
	var lines []string
	for _, p := range inputPaths {
		escapedPath := strings.ReplaceAll(p, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escapedPath))
	}

	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CodecError{Op: "concat", Err: err, Stderr: stderrTail(output)}
	}

	return nil
}

// DecodePCM decodes a file to mono 16-bit PCM at the given rate and
// returns the samples as floats in [-1, 1].
func (f *FFmpeg) DecodePCM(ctx context.Context, path string, sampleRate int) ([]float64, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"pipe:1",
	)
	cmd.Stderr = nil

	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w: %v", ErrUnreadable, err)
	}

	samples := make([]float64, len(raw)/2)
	for i := range samples {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}

// buildCutFilter builds an atrim/concat filtergraph keeping the given
// intervals in order.
func buildCutFilter(keeps []Interval) string {
	var sb strings.Builder
	for i, iv := range keeps {
		fmt.Fprintf(&sb, "[0:a]atrim=start=%.6f:end=%.6f,asetpts=PTS-STARTPTS[s%d];", iv.Begin, iv.End, i)
	}
	for i := range keeps {
		fmt.Fprintf(&sb, "[s%d]", i)
	}
	fmt.Fprintf(&sb, "concat=n=%d:v=0:a=1[out]", len(keeps))
	return sb.String()
}

// encodeArgs returns the ffmpeg arguments for the canonical encoding.
func encodeArgs(spec EncodeSpec) []string {
	var args []string
	if spec.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", spec.SampleRate))
	}
	switch spec.Format {
	case "wav":
		args = append(args, "-acodec", "pcm_s16le")
	default:
		args = append(args, "-acodec", "libmp3lame")
		if spec.Bitrate != "" {
			args = append(args, "-b:a", spec.Bitrate)
		}
	}
	return args
}
