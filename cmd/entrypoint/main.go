package main

import (
	"log"
	"os"
	"syscall"
	"time"

	"studyplan/config"
)

const (
	defaultPort   = "8000"
	defaultServer = "/app/studyplan"
)

// resolvePort applies the PORT default and validates the final value, so a
// misconfigured port fails here instead of after the server has started.
func resolvePort() (string, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
		if err := os.Setenv("PORT", port); err != nil {
			return "", err
		}
	}
	return port, config.ValidatePort(port)
}

// targetBinary returns the server binary path to exec
func targetBinary() string {
	if target := os.Getenv("SERVER_BINARY"); target != "" {
		return target
	}
	return defaultServer
}

// A tiny launcher that ensures sane env defaults and then execs the server binary.
func main() {
	port, err := resolvePort()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Launching server on port %s", port)

	// Optional startup delay for orchestrator compatibility
	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.Printf("Applying startup delay: %v", d)
			time.Sleep(d)
		}
	}

	target := targetBinary()
	if err := syscall.Exec(target, []string{target}, os.Environ()); err != nil {
		log.Fatalf("failed to exec %s: %v", target, err)
	}
}
