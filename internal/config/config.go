// Package config loads the coordinator's static JSON configuration file:
// a thin typed unmarshal applied on top of built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

type CameraConfig struct {
	Mode        string `json:"mode"` // "rtp_h264" | "udp_jpeg"
	BindIP      string `json:"bind_ip"`
	BindPort    int    `json:"bind_port"`
	RTPPayload  int    `json:"rtp_payload"`
	DecoderPath string `json:"decoder_path"`
}

type FrontendConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type CommunicationsConfig struct {
	WSHost string `json:"ws_host"`
	WSPort int    `json:"ws_port"`
}

type MachineLearningConfig struct {
	Enabled   bool   `json:"enabled"`
	ModelsDir string `json:"models_dir"`
	Endpoint  string `json:"endpoint"`
}

type ArenaConfig struct {
	IDs struct {
		BL int `json:"bl"`
		TL int `json:"tl"`
		TR int `json:"tr"`
		BR int `json:"br"`
	} `json:"ids"`
	WorldCorners struct {
		BL [2]float64 `json:"bl"`
		TL [2]float64 `json:"tl"`
		TR [2]float64 `json:"tr"`
		BR [2]float64 `json:"br"`
	} `json:"world_corners"`
	CropRefreshSeconds      float64 `json:"crop_refresh_seconds"`
	BorderMarkerFraction    float64 `json:"border_marker_fraction"`
	OutputWidth             int     `json:"output_width"`
	OutputHeight            int     `json:"output_height"`
	VerticalPaddingFraction float64 `json:"vertical_padding_fraction"`
	JPEGQuality             struct {
		Overlay int `json:"overlay"`
		Crop    int `json:"crop"`
	} `json:"jpeg_quality"`
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Config is the root of the recognised configuration keys.
type Config struct {
	System           SystemConfig          `json:"system"`
	Camera           CameraConfig          `json:"camera"`
	Frontend         FrontendConfig        `json:"frontend"`
	Communications   CommunicationsConfig  `json:"communications"`
	MachineLearning  MachineLearningConfig `json:"machinelearning"`
	Arena            ArenaConfig           `json:"arena"`
}

// Default returns the built-in defaults, used when a key is absent from
// the loaded file.
func Default() Config {
	var c Config
	c.System.LogLevel = "INFO"
	c.Camera.Mode = "udp_jpeg"
	c.Camera.BindIP = "0.0.0.0"
	c.Camera.BindPort = 5000
	c.Camera.RTPPayload = 96
	c.Camera.DecoderPath = "ffmpeg"
	c.Frontend.Host = "0.0.0.0"
	c.Frontend.Port = 8080
	c.Communications.WSHost = "0.0.0.0"
	c.Communications.WSPort = 7755
	c.MachineLearning.Enabled = false
	c.Arena.IDs.BL, c.Arena.IDs.TL, c.Arena.IDs.TR, c.Arena.IDs.BR = 0, 1, 2, 3
	c.Arena.WorldCorners.BL = [2]float64{0, 0}
	c.Arena.WorldCorners.TL = [2]float64{0, 2}
	c.Arena.WorldCorners.TR = [2]float64{4, 2}
	c.Arena.WorldCorners.BR = [2]float64{4, 0}
	c.Arena.CropRefreshSeconds = 600.0
	c.Arena.BorderMarkerFraction = 0.5
	c.Arena.OutputWidth = 1000
	c.Arena.OutputHeight = 500
	c.Arena.VerticalPaddingFraction = 0.01
	c.Arena.JPEGQuality.Overlay = 80
	c.Arena.JPEGQuality.Crop = 75
	c.Arena.XMin, c.Arena.XMax = 0, 4
	c.Arena.YMin, c.Arena.YMax = 0, 2
	return c
}

// Load reads and parses the JSON config file at path, applying it on top
// of Default(). A missing or malformed file is a startup-fatal condition;
// the caller decides how to report that.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
