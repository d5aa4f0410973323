//go:build windows

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
)

// Program implements service.Interface so the upscaler can run as a
// Windows background service.
type Program struct {
	exit chan struct{}
}

// Start launches the worker process in a goroutine and returns.
func (p *Program) Start(s service.Service) error {
	p.exit = make(chan struct{})
	go func() {
		defer close(p.exit)
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "service run failed: %v\n", err)
		}
	}()
	return nil
}

// Stop asks the process to shut down and waits for it. The run loop
// reacts to SIGTERM, which the service manager delivers before Stop.
func (p *Program) Stop(s service.Service) error {
	select {
	case <-p.exit:
	case <-time.After(60 * time.Second):
		return fmt.Errorf("timeout waiting for service to stop")
	}
	return nil
}

// serviceConfig describes the installed Windows service.
func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "ImageUpscaler",
		DisplayName: "Image Upscaler Service",
		Description: "Runs the tiled super-resolution inference worker",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

func newService() (service.Service, error) {
	return service.New(&Program{}, serviceConfig())
}

// RunAsService runs the application under the service manager. It returns
// false when the process is interactive, in which case the caller should
// run in the foreground.
func RunAsService() (bool, error) {
	s, err := newService()
	if err != nil {
		return false, fmt.Errorf("create service: %w", err)
	}
	if service.Interactive() {
		return false, nil
	}
	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run: %w", err)
	}
	return true, nil
}

// HandleServiceCommand dispatches install/uninstall/start/stop/status
// subcommands. It returns true when a command was handled.
func HandleServiceCommand(args []string) bool {
	if len(args) < 1 {
		return false
	}

	s, err := newService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		err = s.Install()
	case "uninstall", "remove":
		err = s.Uninstall()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	case "restart":
		err = s.Restart()
	case "status":
		status, statusErr := s.Status()
		if statusErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", statusErr)
			os.Exit(1)
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service is running")
		case service.StatusStopped:
			fmt.Println("Service is stopped")
		default:
			fmt.Println("Service status unknown")
		}
		return true
	default:
		return false
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Service %s completed\n", args[0])
	return true
}
