package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ArtifactPlaceholder is replaced with the artifact path in attempt arguments.
const ArtifactPlaceholder = "{artifact}"

// Publisher hands an artifact to durable storage and returns its content hash.
type Publisher interface {
	Publish(ctx context.Context, artifactPath string) (string, error)
}

// Attempt is one way of invoking the external publish command.
type Attempt struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// DefaultAttempts runs publish-blob directly and falls back to running it through a shell.
func DefaultAttempts() []Attempt {
	return []Attempt{
		{Name: "publish-blob", Args: []string{ArtifactPlaceholder}},
		{Name: "/bin/sh", Args: []string{"-c", "publish-blob " + ArtifactPlaceholder}},
	}
}

func (a Attempt) args(artifactPath string) []string {
	out := make([]string, len(a.Args))
	for i, arg := range a.Args {
		out[i] = strings.ReplaceAll(arg, ArtifactPlaceholder, artifactPath)
	}
	return out
}

// Runner executes a command and returns what it wrote to stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command as a child process.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// CommandPublisher tries each attempt in order until one prints a hash.
type CommandPublisher struct {
	attempts []Attempt
	timeout  time.Duration
	run      Runner
}

// NewCommandPublisher builds a publisher over attempts. A nil runner means ExecRunner;
// a zero timeout disables the per-attempt deadline.
func NewCommandPublisher(attempts []Attempt, timeout time.Duration, run Runner) *CommandPublisher {
	if len(attempts) == 0 {
		attempts = DefaultAttempts()
	}
	if run == nil {
		run = ExecRunner
	}
	return &CommandPublisher{attempts: attempts, timeout: timeout, run: run}
}

func (p *CommandPublisher) Publish(ctx context.Context, artifactPath string) (string, error) {
	var errs []error
	for i, attempt := range p.attempts {
		hash, err := p.try(ctx, attempt, artifactPath)
		if err == nil {
			log.Info().
				Str("artifact", artifactPath).
				Str("command", attempt.Name).
				Int("attempt", i+1).
				Str("hash", hash).
				Msg("artifact published")
			return hash, nil
		}

		log.Warn().
			Err(err).
			Str("artifact", artifactPath).
			Str("command", attempt.Name).
			Int("attempt", i+1).
			Msg("publish attempt failed")
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrAllAttemptsFailed, errors.Join(errs...))
}

func (p *CommandPublisher) try(ctx context.Context, attempt Attempt, artifactPath string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.run(ctx, attempt.Name, attempt.args(artifactPath)...)
	if err != nil {
		return "", err
	}
	return ParseHash(out)
}
