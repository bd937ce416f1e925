// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// launchedProcess is what [runCommandAs] hands back to its caller: the
// running child plus the endpoints command_hooks.go wires into
// Channels. When the request asked for a pty, stdinW and stdoutR are the
// same descriptor (both set to the pty master, which carries the child's
// merged stdout and stderr), stderrR is nil and ptyMerged is true;
// the caller attaches an immediate outbound EOF for stderr instead of a
// real source, matching spec.md §4.7's "or an immediate outbound EOF if
// pty-merged".
type launchedProcess struct {
	cmd *exec.Cmd
	pid int

	stdinW  io.WriteCloser
	stdoutR io.ReadCloser
	stderrR io.ReadCloser // nil when ptyMerged

	ptyMerged bool
}

// cmdBuildState threads the partial results of runCommandAs's five
// setup steps through the [Compose5] pipeline below.
type cmdBuildState struct {
	req  CommandRequest
	cfg  *Config
	user ResolvedUser
	argv []string
	env  []string
	cmd  *exec.Cmd
	proc *launchedProcess
}

// runCommandAs implements the subprocess-launcher component (spec.md
// §4.8): resolve the user, build argv as `/bin/sh -c command`, build
// the child's environment, allocate either a pty or a stdin/stdout/
// stderr pipe triple, and start the process running as the target
// uid/gid. The five steps are composed with [Compose5], in the order
// its doc comment names them.
func runCommandAs(lookup UserLookup, cfg *Config, req CommandRequest) (*launchedProcess, error) {
	pipeline := Compose5(
		FuncAdapter[cmdBuildState, cmdBuildState](func(_ context.Context, s cmdBuildState) (cmdBuildState, error) {
			return resolveCommandUser(lookup, s)
		}),
		FuncAdapter[cmdBuildState, cmdBuildState](func(_ context.Context, s cmdBuildState) (cmdBuildState, error) {
			return buildCommandArgv(s)
		}),
		FuncAdapter[cmdBuildState, cmdBuildState](func(_ context.Context, s cmdBuildState) (cmdBuildState, error) {
			return buildCommandEnv(s)
		}),
		FuncAdapter[cmdBuildState, cmdBuildState](func(_ context.Context, s cmdBuildState) (cmdBuildState, error) {
			return allocateCommandStreams(s)
		}),
		FuncAdapter[cmdBuildState, *launchedProcess](func(_ context.Context, s cmdBuildState) (*launchedProcess, error) {
			return execCommandState(s)
		}),
	)

	return pipeline.Call(context.Background(), cmdBuildState{req: req, cfg: cfg})
}

// resolveCommandUser is runCommandAs's first setup step.
func resolveCommandUser(lookup UserLookup, s cmdBuildState) (cmdBuildState, error) {
	u, err := lookup.Resolve(s.req.User)
	if err != nil {
		return s, err
	}
	s.user = u
	return s, nil
}

// buildCommandArgv is runCommandAs's second setup step: every command
// runs as a single line interpreted by the user's shell, spec.md §4
// "Command" describes no argv splitting of its own.
func buildCommandArgv(s cmdBuildState) (cmdBuildState, error) {
	s.argv = []string{"/bin/sh", "-c", s.req.Command}
	return s, nil
}

// buildCommandEnv is runCommandAs's third setup step: merge the
// server's default environment with the request's overlay, then force
// HOME/USER to the resolved user regardless of what the client sent.
func buildCommandEnv(s cmdBuildState) (cmdBuildState, error) {
	env := mergeEnv(s.cfg.DefaultEnv, s.req.Env)
	env = append(env, fmt.Sprintf("HOME=%s", s.user.HomeDir), fmt.Sprintf("USER=%s", s.user.Name))
	s.env = env
	return s, nil
}

// allocateCommandStreams is runCommandAs's fourth setup step: build the
// *exec.Cmd with its argv, environment, working directory, credential
// and new session, without starting it yet. The pty or pipe triple is
// allocated by [execCommandState].
func allocateCommandStreams(s cmdBuildState) (cmdBuildState, error) {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Env = s.env
	cmd.Dir = s.user.HomeDir
	cmd.SysProcAttr = &unix.SysProcAttr{
		Credential: &unix.Credential{
			Uid:    uint32(s.user.UID),
			Gid:    uint32(s.user.GID),
			Groups: intsToUint32(s.user.Groups),
		},
		Setsid: true,
	}
	s.cmd = cmd
	return s, nil
}

// execCommandState is runCommandAs's fifth and final setup step:
// allocate the pty or pipes the request's RequestTTY flag calls for,
// and start the child.
func execCommandState(s cmdBuildState) (*launchedProcess, error) {
	if s.req.RequestTTY {
		ptyFile, err := pty.Start(s.cmd)
		if err != nil {
			return nil, err
		}
		return &launchedProcess{
			cmd:       s.cmd,
			pid:       s.cmd.Process.Pid,
			stdinW:    ptyFile,
			stdoutR:   ptyFile,
			ptyMerged: true,
		}, nil
	}

	stdinW, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutR, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrR, err := s.cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := s.cmd.Start(); err != nil {
		return nil, err
	}

	return &launchedProcess{
		cmd:     s.cmd,
		pid:     s.cmd.Process.Pid,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stderrR: stderrR,
	}, nil
}

// intsToUint32 converts the supplementary group id list of a
// [ResolvedUser] (already parsed to ints from [os/user]'s strings) to the
// uint32 slice [golang.org/x/sys/unix.Credential] wants.
func intsToUint32(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// killProcessGroup sends sig to the child's whole process group, the
// Go equivalent of "SIGKILL to the child's process group" (spec.md
// §4.10 "Cancellation"). Setsid in [allocateCommandStreams] makes the
// child its own process group leader, so -pid addresses the group.
func killProcessGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}
