// Package supervisor wires every component together: port pre-flight,
// frame source, the processing loop, both HTTP servers, and the tickers,
// then drives the signal-triggered graceful shutdown in reverse order
// with bounded per-step timeouts.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/umdenes100/visionarena/internal/arena"
	"github.com/umdenes100/visionarena/internal/config"
	"github.com/umdenes100/visionarena/internal/framebus"
	"github.com/umdenes100/visionarena/internal/framesrc"
	"github.com/umdenes100/visionarena/internal/logging"
	"github.com/umdenes100/visionarena/internal/marker"
	"github.com/umdenes100/visionarena/internal/mission"
	"github.com/umdenes100/visionarena/internal/mjpeg"
	"github.com/umdenes100/visionarena/internal/ml"
	"github.com/umdenes100/visionarena/internal/model"
	"github.com/umdenes100/visionarena/internal/overlay"
	"github.com/umdenes100/visionarena/internal/portguard"
	"github.com/umdenes100/visionarena/internal/robot"
	"github.com/umdenes100/visionarena/internal/ui"
)

const shutdownStepTimeout = 3 * time.Second

// Run builds the full coordinator from cfg and blocks until a signal or
// an internal fatal error ends it.
func Run(cfg config.Config, log *logging.Logger) error {
	if err := preflight(cfg); err != nil {
		return err
	}

	placeholder := placeholderJPEG()
	bus := framebus.New(placeholder)

	det := marker.New(marker.DefaultConfig())
	arenaCfg := arena.DefaultConfig()
	applyArenaConfig(&arenaCfg, cfg)
	mapper := arena.NewMapper(arenaCfg, det)
	overlayQuality, cropQuality := cfg.Arena.JPEGQuality.Overlay, cfg.Arena.JPEGQuality.Crop

	registry := robot.NewRegistry()
	broadcaster := ui.NewBroadcaster(registry, log)
	log.AddSink(broadcaster.LogSink())

	var mlClient *ml.Client
	if cfg.MachineLearning.Enabled {
		mlClient = ml.NewClient(cfg.MachineLearning.Endpoint)
	} else {
		mlClient = ml.NewClient("")
	}
	proto := robot.NewProtocol(registry, mapper, broadcaster, mlClient, cfg.MachineLearning.ModelsDir, mission.Passthrough{}, log)

	source := buildFrameSource(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errc := make(chan error, 1)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		errc <- fmt.Errorf("received shutdown signal")
	}()

	if err := source.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("starting frame source: %w", err)
	}
	defer source.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runProcessingLoop(ctx, source, mapper, bus, arenaCfg, overlayQuality, cropQuality, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(ctx, 200*time.Millisecond, proto.RefreshPoses)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		broadcaster.RunRosterTicker(ctx)
	}()

	frontendMux := http.NewServeMux()
	frontendMux.Handle("/video", mjpeg.New(bus, framebus.Raw))
	frontendMux.Handle("/overlay", mjpeg.New(bus, framebus.Overlay))
	frontendMux.Handle("/crop", mjpeg.New(bus, framebus.Crop))
	frontendMux.Handle("/ws", broadcaster)
	frontendMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!doctype html><html><body>vision arena coordinator</body></html>"))
	})
	startHTTPServer(ctx, &wg, errc, log, fmt.Sprintf("%s:%d", cfg.Frontend.Host, cfg.Frontend.Port), frontendMux, "frontend")

	robotMux := http.NewServeMux()
	robotMux.Handle("/ws", proto)
	startHTTPServer(ctx, &wg, errc, log, fmt.Sprintf("%s:%d", cfg.Communications.WSHost, cfg.Communications.WSPort), robotMux, "robot channel")

	log.Infof("coordinator started (frontend %s:%d, robot channel %s:%d)", cfg.Frontend.Host, cfg.Frontend.Port, cfg.Communications.WSHost, cfg.Communications.WSPort)

	err := <-errc
	log.Infof("shutting down (%v)", err)
	cancel()
	wg.Wait()
	log.Infof("exited")
	return nil
}

func preflight(cfg config.Config) error {
	endpoints := []portguard.Endpoint{
		{Name: "frontend HTTP", Proto: "tcp", Host: cfg.Frontend.Host, Port: cfg.Frontend.Port},
		{Name: "robot channel", Proto: "tcp", Host: cfg.Communications.WSHost, Port: cfg.Communications.WSPort},
	}
	if cfg.Camera.Mode == "udp_jpeg" {
		endpoints = append(endpoints, portguard.Endpoint{Name: "video ingress", Proto: "udp", Host: cfg.Camera.BindIP, Port: cfg.Camera.BindPort})
	}
	return portguard.Check(endpoints)
}

func applyArenaConfig(a *arena.Config, cfg config.Config) {
	a.IDBL, a.IDTL, a.IDTR, a.IDBR = cfg.Arena.IDs.BL, cfg.Arena.IDs.TL, cfg.Arena.IDs.TR, cfg.Arena.IDs.BR
	a.WorldBL = model.Point2{X: cfg.Arena.WorldCorners.BL[0], Y: cfg.Arena.WorldCorners.BL[1]}
	a.WorldTL = model.Point2{X: cfg.Arena.WorldCorners.TL[0], Y: cfg.Arena.WorldCorners.TL[1]}
	a.WorldTR = model.Point2{X: cfg.Arena.WorldCorners.TR[0], Y: cfg.Arena.WorldCorners.TR[1]}
	a.WorldBR = model.Point2{X: cfg.Arena.WorldCorners.BR[0], Y: cfg.Arena.WorldCorners.BR[1]}
	a.OutputWidth, a.OutputHeight = cfg.Arena.OutputWidth, cfg.Arena.OutputHeight
	a.CropRefreshSeconds = cfg.Arena.CropRefreshSeconds
	a.BorderMarkerFraction = cfg.Arena.BorderMarkerFraction
	a.VerticalPaddingFraction = cfg.Arena.VerticalPaddingFraction
	a.XMin, a.XMax, a.YMin, a.YMax = cfg.Arena.XMin, cfg.Arena.XMax, cfg.Arena.YMin, cfg.Arena.YMax
}

func buildFrameSource(cfg config.Config, log *logging.Logger) framesrc.Source {
	if cfg.Camera.Mode == "rtp_h264" {
		return framesrc.NewRTPH264Source(cfg.Camera.DecoderPath, cfg.Camera.BindIP, cfg.Camera.BindPort, cfg.Camera.RTPPayload, log)
	}
	return framesrc.NewUDPJPEGSource(cfg.Camera.BindIP, cfg.Camera.BindPort, log)
}

// runProcessingLoop is the data-flow spine: frame source -> decode ->
// detection/mapping -> overlay render -> frame bus. It yields after each
// frame so connection I/O is never starved.
func runProcessingLoop(ctx context.Context, source framesrc.Source, mapper *arena.Mapper, bus *framebus.Bus, arenaCfg arena.Config, overlayQuality, cropQuality int, log *logging.Logger) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw := source.LatestFrame()
			if raw == nil {
				continue
			}
			bus.Publish(framebus.Raw, raw)

			img, err := jpeg.Decode(bytes.NewReader(raw))
			if err != nil {
				log.Debugf("frame decode failed: %v", err)
				continue
			}

			markers, _ := mapper.Process(img)

			overlayJPEG, err := overlay.Render(img, markers, overlayQuality)
			if err != nil {
				log.Debugf("overlay render failed: %v", err)
			} else {
				bus.Publish(framebus.Overlay, overlayJPEG)
			}

			if transform, ok := mapper.Transform(); ok {
				cropJPEG, err := overlay.RenderCrop(img, transform.ImgToCrop, markers, arenaCfg.OutputWidth, arenaCfg.OutputHeight, cropQuality)
				if err != nil {
					log.Debugf("crop render failed: %v", err)
				} else {
					bus.Publish(framebus.Crop, cropJPEG)
				}
			}
		}
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// startHTTPServer starts ListenAndServe in a goroutine, races it against
// ctx.Done(), and calls Shutdown with a bounded timeout on cancellation.
func startHTTPServer(ctx context.Context, wg *sync.WaitGroup, errc chan<- error, log *logging.Logger, addr string, handler http.Handler, name string) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Infof("%s server listening on %s", name, addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				select {
				case errc <- err:
				default:
				}
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownStepTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("%s server shutdown error: %v", name, err)
		}
	}()
}

func placeholderJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{32, 32, 32, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70})
	return buf.Bytes()
}
