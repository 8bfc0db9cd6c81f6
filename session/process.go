package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ConnectionInfo tells a kernel where its sockets are. It is written as a
// flat JSON object in the usual connection-file layout, one "<name>_port"
// key per socket.
type ConnectionInfo struct {
	Transport  string
	IP         string
	SessionID  string
	KernelName string
	Language   string
	Ports      map[string]int
}

func (c ConnectionInfo) MarshalJSON() ([]byte, error) {
	flat := map[string]any{
		"transport":   c.Transport,
		"ip":          c.IP,
		"session_id":  c.SessionID,
		"kernel_name": c.KernelName,
		"language":    c.Language,
	}
	for name, port := range c.Ports {
		if name == SocketHeartbeat {
			name = "hb"
		}
		flat[name+"_port"] = port
	}
	return json.Marshal(flat)
}

// WriteConnectionFile writes info to a new file in dir (the system temp
// directory when empty) and returns its path.
func WriteConnectionFile(dir string, info ConnectionInfo) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode connection info: %w", err)
	}

	f, err := os.CreateTemp(dir, "kernel-*.json")
	if err != nil {
		return "", fmt.Errorf("create connection file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write connection file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close connection file: %w", err)
	}
	return f.Name(), nil
}

// KernelProcess starts and stops the kernel behind a session.
type KernelProcess interface {
	Start(ctx context.Context, info ConnectionInfo) error
	Stop(ctx context.Context) error
}

// ProcessFactory creates the KernelProcess for one launch.
type ProcessFactory func(doc DocumentID, rt RuntimeID) (KernelProcess, error)

// CommandProcessFactory builds CommandProcesses from cfg.KernelCommands.
func CommandProcessFactory(cfg Config) ProcessFactory {
	return func(doc DocumentID, rt RuntimeID) (KernelProcess, error) {
		argv, ok := cfg.KernelCommand(rt.Language)
		if !ok {
			return nil, fmt.Errorf("%w for %s", ErrNoKernelCommand, rt)
		}
		return &CommandProcess{
			Command:     argv,
			StopTimeout: cfg.ShutdownTimeout.Std(),
			Stderr:      os.Stderr,
		}, nil
	}
}

// CommandProcess runs a kernel as a child process. Every argument equal to
// or containing ConnectionFilePlaceholder has it replaced by the path of a
// connection file written for the launch.
type CommandProcess struct {
	Command     []string
	Dir         string
	Env         map[string]string
	StopTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer

	mu      sync.Mutex
	cmd     *exec.Cmd
	file    string
	exited  chan struct{}
	waitErr error
}

func (p *CommandProcess) Start(ctx context.Context, info ConnectionInfo) error {
	if len(p.Command) == 0 {
		return ErrNoKernelCommand
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := WriteConnectionFile("", info)
	if err != nil {
		return err
	}

	argv := make([]string, len(p.Command))
	for i, arg := range p.Command {
		argv[i] = strings.ReplaceAll(arg, ConnectionFilePlaceholder, file)
	}

	// The kernel outlives the launch context, so it is not bound to ctx.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.Dir
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if len(p.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	if err := cmd.Start(); err != nil {
		os.Remove(file)
		return fmt.Errorf("start kernel %q: %w", argv[0], err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.file = file
	p.exited = make(chan struct{})
	exited := p.exited
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(exited)
	}()

	return nil
}

// Stop interrupts the kernel and kills it if it has not exited within
// StopTimeout or before ctx is done. The connection file is removed.
func (p *CommandProcess) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited, file := p.cmd, p.exited, p.file
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	defer os.Remove(file)

	select {
	case <-exited:
		return p.exitErr()
	default:
	}

	_ = cmd.Process.Signal(os.Interrupt)

	timeout := p.StopTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill kernel: %w", err)
	}
	<-exited
	return nil
}

func (p *CommandProcess) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.waitErr
	}
	return nil
}
