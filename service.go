package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"

	"sdqueue/core"
)

// serviceStopTimeout bounds how long a service manager stop waits for the
// graceful shutdown sequence.
const serviceStopTimeout = 45 * time.Second

// program adapts run to the service manager's Start/Stop lifecycle.
type program struct {
	cancel   context.CancelFunc
	done     chan struct{}
	exitCode int
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.exitCode = run(ctx)
		if ctx.Err() == nil {
			// run ended on its own (signal or failure); leave with its code.
			os.Exit(p.exitCode)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}
}

// serviceConfig describes the installed service. It runs from the
// executable's directory so .env and relative paths resolve there.
func serviceConfig() *service.Config {
	cfg := &service.Config{
		Name:        "sdqueue",
		DisplayName: "sdqueue image generation service",
		Description: "Queues text-to-image jobs and runs them one at a time on the local GPU.",
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
	if exe, err := os.Executable(); err == nil {
		cfg.WorkingDirectory = filepath.Dir(exe)
	}
	return cfg
}

func newService(p *program) (service.Service, error) {
	s, err := service.New(p, serviceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// runService runs under a service manager until it stops the service.
func runService() int {
	p := &program{}
	s, err := newService(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return core.ExitCodeError
	}
	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "service run failed: %v\n", err)
		return core.ExitCodeError
	}
	return p.exitCode
}

// serviceCommand handles "sdqueue service <action>".
func serviceCommand(args []string) int {
	return serviceCommandTo(os.Stdout, args, nil)
}

// serviceCommandTo is serviceCommand with its output and service handle
// injectable. A nil svc creates the real one.
func serviceCommandTo(out io.Writer, args []string, svc service.Service) int {
	if len(args) != 1 {
		printServiceUsage(out)
		return core.ExitCodeConfig
	}

	action := args[0]
	switch action {
	case "help", "-h", "--help":
		printServiceUsage(out)
		return core.ExitCodeSuccess
	case "install", "uninstall", "start", "stop", "restart", "status":
	default:
		fmt.Fprintf(out, "%s unknown service command %q\n\n", color.RedString("Error:"), action)
		printServiceUsage(out)
		return core.ExitCodeConfig
	}

	if svc == nil {
		s, err := newService(&program{})
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", color.RedString("Error:"), err)
			return core.ExitCodeError
		}
		svc = s
	}

	if action == "status" {
		status, err := svc.Status()
		if err != nil {
			fmt.Fprintf(out, "%s failed to get service status: %v\n", color.RedString("Error:"), err)
			return core.ExitCodeError
		}
		fmt.Fprintf(out, "Service is %s\n", statusName(status))
		return core.ExitCodeSuccess
	}

	if err := service.Control(svc, action); err != nil {
		fmt.Fprintf(out, "%s %v\n", color.RedString("Error:"), err)
		return core.ExitCodeError
	}
	fmt.Fprintf(out, "%s service %s\n", color.GreenString("OK:"), pastTense(action))
	return core.ExitCodeSuccess
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "in an unknown state"
	}
}

func pastTense(action string) string {
	if action == "stop" {
		return "stopped"
	}
	return action + "ed"
}

func printServiceUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: sdqueue service <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  install    Install sdqueue as a system service")
	fmt.Fprintln(out, "  uninstall  Remove the system service")
	fmt.Fprintln(out, "  start      Start the service")
	fmt.Fprintln(out, "  stop       Stop the service")
	fmt.Fprintln(out, "  restart    Restart the service")
	fmt.Fprintln(out, "  status     Show the service status")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run without arguments to serve in the foreground.")
}
