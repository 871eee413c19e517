// Package media validates source files and converts them to MP3 using the
// ffprobe and ffmpeg binaries.
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/vidaudio/internal/progress"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

// ContentType is the MIME type of converted artifacts.
const ContentType = "audio/mpeg"

const stderrTail = 512

// Info describes a probed media file.
type Info struct {
	Format   string
	Duration float64 // seconds, 0 when unknown
	HasVideo bool
	HasAudio bool
}

// CommandError reports a failed ffmpeg/ffprobe invocation.
type CommandError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability. onLine, when
// non-nil, receives each stdout line as it is produced.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return commandResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return commandResult{}, err
	}

	scanner := bufio.NewScanner(io.TeeReader(pipe, &stdout))
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	// Drain whatever the scanner gave up on so the process can exit.
	_, _ = io.Copy(&stdout, pipe)

	err = cmd.Wait()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}

// Transcoder wraps ffprobe and ffmpeg.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	stat        func(name string) (os.FileInfo, error)
	lookPath    func(file string) (string, error)
}

// NewTranscoder creates a Transcoder that runs the given binaries.
func NewTranscoder(ffmpegPath, ffprobePath string) *Transcoder {
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      execRunner{},
		stat:        os.Stat,
		lookPath:    exec.LookPath,
	}
}

// Available reports whether the ffmpeg and ffprobe binaries can be found.
func (t *Transcoder) Available() error {
	if _, err := t.lookPath(t.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if _, err := t.lookPath(t.ffprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the file's streams and duration.
func (t *Transcoder) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_streams", "-show_format", path}
	res, err := t.runner.Run(ctx, t.ffprobePath, args, nil)
	if err != nil {
		return Info{}, fmt.Errorf("run ffprobe: %w", err)
	}
	if res.ExitCode != 0 {
		return Info{}, &CommandError{Tool: "ffprobe", ExitCode: res.ExitCode, Stderr: tail(res.Stderr)}
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := Info{Format: out.Format.FormatName}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		info.Duration = d
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

// Validate probes the file and rejects it unless it carries an audio stream.
func (t *Transcoder) Validate(ctx context.Context, path string) (Info, error) {
	info, err := t.Probe(ctx, path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: unreadable media file: %v", models.ErrInvalidMedia, err)
	}
	if !info.HasVideo && !info.HasAudio {
		return info, fmt.Errorf("%w: file contains no video or audio streams", models.ErrInvalidMedia)
	}
	if !info.HasAudio {
		return info, fmt.Errorf("%w: video file contains no audio track", models.ErrInvalidMedia)
	}
	return info, nil
}

func buildConvertArgs(in, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "128k",
		"-ac", "2",
		"-ar", "44100",
		"-f", "mp3",
		"-progress", "pipe:1",
		"-nostats",
		out,
	}
}

// Convert extracts the audio track of in into an MP3 at out. Progress is
// derived from ffmpeg's machine-readable progress output when the duration is known.
func (t *Transcoder) Convert(ctx context.Context, in, out string, info Info, sink progress.Sink) error {
	if sink == nil {
		sink = progress.Discard
	}

	onLine := func(line string) {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			return
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// ffmpeg reports out_time_ms in microseconds as well.
			if info.Duration <= 0 {
				return
			}
			us, err := strconv.ParseInt(val, 10, 64)
			if err != nil || us < 0 {
				return
			}
			sink.Report(min(float64(us)/1e6/info.Duration*100, 100))
		case "progress":
			if val == "end" {
				sink.Report(100)
			}
		}
	}

	res, err := t.runner.Run(ctx, t.ffmpegPath, buildConvertArgs(in, out), onLine)
	if err != nil {
		return fmt.Errorf("run ffmpeg: %w", err)
	}
	if res.ExitCode != 0 {
		return &CommandError{Tool: "ffmpeg", ExitCode: res.ExitCode, Stderr: tail(res.Stderr)}
	}

	fi, err := t.stat(out)
	if err != nil {
		return fmt.Errorf("output file missing: %w", err)
	}
	if fi.Size() == 0 {
		return errors.New("output file is empty")
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}
