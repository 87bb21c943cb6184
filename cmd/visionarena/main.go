// Command visionarena runs the arena coordinator: ceiling-camera marker
// tracking, arena homography mapping, MJPEG fan-out, and the robot
// websocket protocol.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/umdenes100/visionarena/internal/config"
	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file (uses built-in defaults if empty)")
	logLevel := flag.String("log-level", "", "override the configured log level (DEBUG|INFO|WARN|ERROR|FATAL)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visionarena: %v\n", err)
		os.Exit(1)
	}

	level := cfg.System.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := logging.New(logging.ParseLevel(level))

	if err := supervisor.Run(cfg, log); err != nil {
		log.Fatalf("coordinator exited: %v", err)
	}
}
