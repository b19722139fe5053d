package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"github.com/pscheid92/streamdvr/internal/process"
)

// Fixed downloader flags tuned for long live captures.
var streamlinkFlags = []string{
	"--hls-live-edge", "99999",
	"--stream-timeout", "200",
	"--stream-segment-timeout", "200",
	"--stream-segment-threads", "5",
	"--ffmpeg-fout", "mpegts",
	"--twitch-disable-hosting",
	"--twitch-disable-ads",
	"--twitch-disable-reruns",
	"--retry-streams", "10",
	"--retry-max", "5",
}

const defaultQuality = "1080p60,best"

// ExitError reports a pipeline step whose binary exited non-zero.
type ExitError struct {
	Step string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Step, e.Code)
}

// Releaser frees a stream id once its pipeline is done.
type Releaser interface {
	Release(id string) bool
}

// SettingsReader is the read side of the settings store used for extra flags.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

type PipelineConfig struct {
	StreamlinkPath string
	FFmpegPath     string
	OutputDir      string
	LogsDir        string
	// Location renders the broadcast start in file names; nil means local time.
	Location *time.Location
}

// Pipeline records one broadcast: download to .ts, remux to .mp4, clean up.
type Pipeline struct {
	cfg      PipelineConfig
	settings SettingsReader
	releaser Releaser
	events   emitter
	logger   *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithPipelineObservers(observers ...domain.CaptureObserver) PipelineOption {
	return func(p *Pipeline) { p.events.observers = append(p.events.observers, observers...) }
}

func WithPipelineClock(clock clockwork.Clock) PipelineOption {
	return func(p *Pipeline) { p.events.clock = clock }
}

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

func NewPipeline(cfg PipelineConfig, settings SettingsReader, releaser Releaser, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		settings: settings,
		releaser: releaser,
		events:   emitter{clock: clockwork.NewRealClock()},
		logger:   logging.WithComponent(slog.Default(), "capture"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run captures req. Failures are logged and reported to observers; the
// stream id is released in every case.
func (p *Pipeline) Run(ctx context.Context, req domain.CaptureRequest) {
	defer p.releaser.Release(req.ID)

	ctx = logging.WithCapture(ctx, req.ID, req.Login)
	start := p.events.clock.Now()

	err := p.capture(ctx, req)
	elapsed := p.events.clock.Since(start)
	if err != nil {
		p.logger.ErrorContext(ctx, "Capture failed",
			"login", req.Login,
			"user_name", req.DisplayName,
			"title", req.Title,
			"started_at", req.StartedAt,
			"elapsed", elapsed,
			"error", err)
		p.events.emit(domain.StageFailed, req, err, elapsed)
		return
	}

	p.logger.InfoContext(ctx, "Capture finished", "login", req.Login, "elapsed", elapsed)
	p.events.emit(domain.StageFinished, req, nil, elapsed)
}

func (p *Pipeline) capture(ctx context.Context, req domain.CaptureRequest) error {
	dir, err := p.outputDir(req)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.cfg.LogsDir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	tsName, mp4Name := OutputNames(req, p.cfg.Location)
	tsPath := filepath.Join(dir, tsName)
	mp4Path := filepath.Join(dir, mp4Name)

	p.events.emit(domain.StageCapturing, req, nil, 0)
	p.logger.InfoContext(ctx, "Capturing stream", "login", req.Login, "output", tsPath)

	args := append([]string{}, streamlinkFlags...)
	args = append(args,
		"-o", tsPath,
		"--url", "https://twitch.tv/"+req.Login,
		"--default-stream", defaultQuality,
	)
	args = append(args, p.extraFlags(ctx, domain.SettingStreamlinkExtraFlags)...)

	if err := p.step(ctx, "capture", p.cfg.StreamlinkPath, args, dir, req); err != nil {
		return err
	}

	p.events.emit(domain.StageRemuxing, req, nil, 0)
	p.logger.InfoContext(ctx, "Remuxing stream", "login", req.Login, "output", mp4Path)

	args = []string{
		"-i", tsPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "faststart",
	}
	// output options must precede the output file
	args = append(args, p.extraFlags(ctx, domain.SettingFFmpegExtraFlags)...)
	args = append(args, mp4Path)

	if err := p.step(ctx, "remux", p.cfg.FFmpegPath, args, dir, req); err != nil {
		return err
	}

	if err := os.Remove(tsPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.WarnContext(ctx, "Failed to delete intermediate file", "path", tsPath, "error", err)
	}
	if err := shareFile(mp4Path); err != nil {
		p.logger.WarnContext(ctx, "Failed to adjust output permissions", "path", mp4Path, "error", err)
	}
	return nil
}

func (p *Pipeline) outputDir(req domain.CaptureRequest) (string, error) {
	// absolute, since the child processes run inside it
	dir, err := filepath.Abs(filepath.Join(p.cfg.OutputDir, SanitizeFileName(req.DisplayName)))
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := shareDir(dir); err != nil {
		return "", fmt.Errorf("set output directory permissions: %w", err)
	}
	return dir, nil
}

func (p *Pipeline) extraFlags(ctx context.Context, key string) []string {
	if p.settings == nil {
		return nil
	}
	raw, err := p.settings.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrSettingNotFound) {
			p.logger.WarnContext(ctx, "Failed to read extra flags, continuing without", "key", key, "error", err)
		}
		return nil
	}
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return process.SplitArgs(raw)
}

// step runs one binary with both output streams mirrored to log files that
// start with the command line used.
func (p *Pipeline) step(ctx context.Context, name, binary string, args []string, dir string, req domain.CaptureRequest) error {
	proc := process.New(binary, args, dir)
	header := "$ " + proc.CommandLine()
	p.logger.InfoContext(ctx, "Using command line", "step", name, "command_line", header)

	stdoutName, stderrName := LogNames(name, req)
	stdout, err := openStepLog(filepath.Join(p.cfg.LogsDir, stdoutName), header)
	if err != nil {
		return err
	}
	defer stdout.close(ctx, p.logger)

	stderr, err := openStepLog(filepath.Join(p.cfg.LogsDir, stderrName), header)
	if err != nil {
		return err
	}
	defer stderr.close(ctx, p.logger)

	proc.OnStdout(stdout.writeLine)
	proc.OnStderr(stderr.writeLine)

	code, err := proc.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if code != 0 {
		return &ExitError{Step: name, Code: code}
	}
	return nil
}

// stepLog is written from a single reader goroutine only.
type stepLog struct {
	file *os.File
	w    *bufio.Writer
	err  error
}

func openStepLog(path, header string) (*stepLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &stepLog{file: f, w: bufio.NewWriter(f)}
	l.writeLine(header)
	return l, nil
}

func (l *stepLog) writeLine(line string) {
	if l.err != nil {
		return
	}
	if _, err := l.w.WriteString(line + "\n"); err != nil {
		l.err = err
		return
	}
	l.err = l.w.Flush()
}

func (l *stepLog) close(ctx context.Context, logger *slog.Logger) {
	if l.err == nil {
		l.err = l.w.Flush()
	}
	if err := l.file.Close(); err != nil && l.err == nil {
		l.err = err
	}
	if l.err != nil {
		logger.WarnContext(ctx, "Failed to write process log", "path", l.file.Name(), "error", l.err)
	}
}
