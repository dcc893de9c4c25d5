package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/ipc"
	"github.com/capitalize-ai/lead-fleet/internal/model"
)

// Process is a spawned worker.
type Process interface {
	// Channel is the envelope stream to the worker.
	Channel() *ipc.Channel
	// Wait blocks until the worker exits. It is called exactly once.
	Wait() error
	// Terminate asks the worker to exit and force-kills it if it does not.
	Terminate()
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, bot model.BotConfig) (Process, error)
}

// ExecSpawner re-executes a binary with the worker subcommand, wiring the
// worker's stdin and stdout as the IPC channel.
type ExecSpawner struct {
	Path        string
	Args        []string
	Env         []string
	KillTimeout time.Duration
}

// NewExecSpawner spawns the running executable as `<exe> worker`.
func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecSpawner{Path: exe, Args: []string{"worker"}, KillTimeout: 3 * time.Second}, nil
}

// Spawn starts one worker process.
func (s *ExecSpawner) Spawn(_ context.Context, bot model.BotConfig) (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, "FLEET_BOT_ID="+bot.ID)
	cmd.Stderr = os.Stderr // worker logs go to supervisor stderr

	// Explicit pipes: Wait must not close the read end while relay drains it.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{inR, inW, outR, outW} {
			f.Close()
		}
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	inR.Close()
	outW.Close()

	return &execProcess{
		cmd:         cmd,
		ch:          ipc.NewChannel(outR, inW, multiCloser{inW, outR}),
		killTimeout: s.KillTimeout,
		exited:      make(chan struct{}),
	}, nil
}

type execProcess struct {
	cmd         *exec.Cmd
	ch          *ipc.Channel
	killTimeout time.Duration
	exited      chan struct{}
	once        sync.Once
}

func (p *execProcess) Channel() *ipc.Channel { return p.ch }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	close(p.exited)
	return err
}

// Terminate closes stdin, sends SIGINT, and kills after the timeout.
func (p *execProcess) Terminate() {
	p.once.Do(func() {
		_ = p.ch.Close()
		if p.cmd.Process == nil {
			return
		}
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.exited:
		case <-time.After(p.killTimeout):
			_ = p.cmd.Process.Kill()
		}
	})
}

type multiCloser []*os.File

func (m multiCloser) Close() error {
	var first error
	for _, f := range m {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
