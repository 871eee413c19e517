package media

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/progress"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeRunner struct {
	fn    func(name string, args []string, onLine func(string)) (commandResult, error)
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, onLine func(string)) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.fn(name, args, onLine)
}

type fakeFileInfo struct{ size int64 }

func (f fakeFileInfo) Name() string       { return "out.mp3" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

func newTestTranscoder(r *fakeRunner, size int64) *Transcoder {
	return &Transcoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      r,
		stat:        func(string) (os.FileInfo, error) { return fakeFileInfo{size: size}, nil },
		lookPath:    func(file string) (string, error) { return "/usr/bin/" + file, nil },
	}
}

func probeJSON(streams ...string) string {
	out := `{"streams":[`
	for i, s := range streams {
		if i > 0 {
			out += ","
		}
		out += `{"codec_type":"` + s + `"}`
	}
	return out + `],"format":{"format_name":"mov,mp4","duration":"10.000000"}}`
}

func probeRunner(stdout string) *fakeRunner {
	return &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{Stdout: stdout}, nil
	}}
}

type collectSink struct{ values []float64 }

func (c *collectSink) Report(p float64) { c.values = append(c.values, p) }

// --- Probe / Validate ---

func TestProbe_ParsesStreamsAndDuration(t *testing.T) {
	r := probeRunner(probeJSON("video", "audio"))
	tc := newTestTranscoder(r, 1)

	info, err := tc.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, 10.0, info.Duration)
	assert.Equal(t, "mov,mp4", info.Format)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "ffprobe", r.calls[0][0])
	assert.Equal(t, "/tmp/in.mp4", r.calls[0][len(r.calls[0])-1])
}

func TestValidate_AudioOnlyAccepted(t *testing.T) {
	tc := newTestTranscoder(probeRunner(probeJSON("audio")), 1)
	info, err := tc.Validate(context.Background(), "in.m4a")
	require.NoError(t, err)
	assert.False(t, info.HasVideo)
}

func TestValidate_NoStreams(t *testing.T) {
	tc := newTestTranscoder(probeRunner(probeJSON()), 1)
	_, err := tc.Validate(context.Background(), "in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidMedia)
	assert.Contains(t, err.Error(), "no video or audio streams")
}

func TestValidate_VideoWithoutAudio(t *testing.T) {
	tc := newTestTranscoder(probeRunner(probeJSON("video")), 1)
	_, err := tc.Validate(context.Background(), "in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidMedia)
	assert.Contains(t, err.Error(), "no audio track")
}

func TestValidate_ProbeFailureIsInvalidMedia(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{ExitCode: 1, Stderr: "Invalid data found when processing input"}, nil
	}}
	tc := newTestTranscoder(r, 1)

	_, err := tc.Validate(context.Background(), "in.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidMedia)
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestProbe_RunError(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{}, errors.New("exec: not found")
	}}
	tc := newTestTranscoder(r, 1)
	_, err := tc.Probe(context.Background(), "in.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run ffprobe")
}

// --- Convert ---

func TestConvert_ArgsAndProgress(t *testing.T) {
	r := &fakeRunner{fn: func(name string, args []string, onLine func(string)) (commandResult, error) {
		for _, line := range []string{
			"frame=0",
			"out_time_us=2500000",
			"progress=continue",
			"out_time_ms=5000000",
			"out_time_us=garbage",
			"out_time_us=10000000",
			"progress=end",
		} {
			onLine(line)
		}
		return commandResult{}, nil
	}}
	tc := newTestTranscoder(r, 2048)
	sink := &collectSink{}

	err := tc.Convert(context.Background(), "in.mp4", "out.mp3", Info{Duration: 10}, sink)
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 100, 100}, sink.values)

	args := r.calls[0]
	assert.Equal(t, "ffmpeg", args[0])
	assert.Contains(t, args, "libmp3lame")
	assert.Contains(t, args, "128k")
	assert.Contains(t, args, "44100")
	assert.Contains(t, args, "-vn")
	assert.Equal(t, "out.mp3", args[len(args)-1])
}

func TestConvert_UnknownDurationOnlyReportsEnd(t *testing.T) {
	r := &fakeRunner{fn: func(_ string, _ []string, onLine func(string)) (commandResult, error) {
		onLine("out_time_us=5000000")
		onLine("progress=end")
		return commandResult{}, nil
	}}
	tc := newTestTranscoder(r, 10)
	sink := &collectSink{}

	require.NoError(t, tc.Convert(context.Background(), "in", "out", Info{}, sink))
	assert.Equal(t, []float64{100}, sink.values)
}

func TestConvert_NonZeroExit(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{ExitCode: 1, Stderr: "Unknown encoder 'libmp3lame'"}, nil
	}}
	tc := newTestTranscoder(r, 10)

	err := tc.Convert(context.Background(), "in", "out", Info{Duration: 1}, progress.Discard)
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "ffmpeg", cmdErr.Tool)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "libmp3lame")
}

func TestConvert_EmptyOutput(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{}, nil
	}}
	tc := newTestTranscoder(r, 0)

	err := tc.Convert(context.Background(), "in", "out", Info{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestConvert_MissingOutput(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string, func(string)) (commandResult, error) {
		return commandResult{}, nil
	}}
	tc := newTestTranscoder(r, 0)
	tc.stat = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }

	err := tc.Convert(context.Background(), "in", "out", Info{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// --- Available ---

func TestAvailable(t *testing.T) {
	tc := newTestTranscoder(probeRunner(""), 0)
	assert.NoError(t, tc.Available())

	tc.lookPath = func(file string) (string, error) {
		if file == "ffprobe" {
			return "", errors.New("not in PATH")
		}
		return "/usr/bin/" + file, nil
	}
	err := tc.Available()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe")
}

func TestTail(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	got := tail(string(long))
	assert.Len(t, got, stderrTail+3)
	assert.Equal(t, "short", tail("  short \n"))
}

func TestExecRunner_StreamsLinesAndExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	var lines []string
	res, err := execRunner{}.Run(context.Background(), "/bin/sh",
		[]string{"-c", "echo first; echo second; echo oops >&2; exit 3"},
		func(l string) { lines = append(lines, l) })
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, lines)
	assert.Equal(t, "first\nsecond\n", res.Stdout)
	assert.Contains(t, res.Stderr, "oops")
	assert.Equal(t, 3, res.ExitCode)
}
