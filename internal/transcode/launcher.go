package transcode

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Job is one tier encode of a session.
type Job struct {
	SessionID model.ID
	Tier      Tier
	Input     string
	OutputDir string
}

// Process is a launched encoder.
type Process interface {
	// Wait blocks until the process exits; a non-nil error means it failed.
	Wait() error
	Kill() error
}

// Launcher starts encoder processes.
type Launcher interface {
	Launch(job Job) (Process, error)
}

// FFmpegLauncher runs one ffmpeg HLS encode per job.
type FFmpegLauncher struct {
	path           string
	extraArgs      []string
	segmentSeconds int
	log            *zap.Logger
}

// NewFFmpegLauncher parses extraArgs as a shell-style argument string.
func NewFFmpegLauncher(path, extraArgs string, segmentSeconds int, log *zap.Logger) (*FFmpegLauncher, error) {
	args, err := shellwords.Parse(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg extra args: %w", err)
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 2
	}
	return &FFmpegLauncher{path: path, extraArgs: args, segmentSeconds: segmentSeconds, log: log}, nil
}

// Args builds the ffmpeg command line for job.
func (l *FFmpegLauncher) Args(job Job) []string {
	t := job.Tier
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", job.Input,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-s", t.Resolution(),
		"-r", strconv.Itoa(Framerate),
		"-g", strconv.Itoa(KeyframeInterval),
		"-keyint_min", strconv.Itoa(KeyframeInterval),
		"-sc_threshold", "0",
		"-b:v", fmt.Sprintf("%dk", t.VideoKbps),
		"-maxrate", fmt.Sprintf("%dk", t.VideoKbps*107/100),
		"-bufsize", fmt.Sprintf("%dk", t.VideoKbps*3/2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", t.AudioKbps),
		"-ar", "48000",
	}
	args = append(args, l.extraArgs...)
	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(l.segmentSeconds),
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(job.OutputDir, "segment_%05d.ts"),
		filepath.Join(job.OutputDir, "index.m3u8"),
	)
}

func (l *FFmpegLauncher) Launch(job Job) (Process, error) {
	cmd := exec.Command(l.path, l.Args(job)...)
	stderr := &zapio.Writer{
		Log: l.log.With(
			zap.String("session_id", job.SessionID.String()),
			zap.String("tier", job.Tier.Name)),
		Level: zap.WarnLevel,
	}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegProcess{cmd: cmd, stderr: stderr}, nil
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stderr *zapio.Writer
}

func (p *ffmpegProcess) Wait() error {
	err := p.cmd.Wait()
	_ = p.stderr.Close()
	return err
}

func (p *ffmpegProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
