// Package framesrc owns video ingest: either a UDP socket receiving one
// JPEG per datagram, or an external decode subprocess streaming
// concatenated JPEGs on its stdout. Both variants expose only the most
// recent frame; there is no frame queue.
package framesrc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/umdenes100/visionarena/internal/jpegstream"
	"github.com/umdenes100/visionarena/internal/logging"
)

// Source is the contract both ingest variants satisfy.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	LatestFrame() []byte
}

// frameSlot is an atomically-swapped holder for the most recent raw JPEG.
type frameSlot struct {
	v atomic.Value // holds []byte
}

func (s *frameSlot) store(b []byte) { s.v.Store(b) }
func (s *frameSlot) load() []byte {
	v := s.v.Load()
	if v == nil {
		return nil
	}
	return v.([]byte)
}

// UDPJPEGSource is the datagram-JPEG ingest variant: each datagram of at
// least 4 bytes beginning FF D8 and ending FF D9 is one whole JPEG and
// atomically replaces the latest frame. Malformed datagrams are dropped
// silently so a bad sender cannot stall the pipeline.
type UDPJPEGSource struct {
	host string
	port int
	log  *logging.Logger

	slot   frameSlot
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUDPJPEGSource(host string, port int, log *logging.Logger) *UDPJPEGSource {
	return &UDPJPEGSource{host: host, port: port, log: log}
}

func (s *UDPJPEGSource) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("resolving udp ingress address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("binding udp ingress: %w", err)
	}
	s.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.readLoop(runCtx)
	return nil
}

func (s *UDPJPEGSource) readLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warnf("udp ingress read error: %v", err)
			return
		}
		if n < 4 {
			continue
		}
		datagram := buf[:n]
		if datagram[0] != 0xFF || datagram[1] != 0xD8 || datagram[n-2] != 0xFF || datagram[n-1] != 0xD9 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, datagram)
		s.slot.store(frame)
	}
}

func (s *UDPJPEGSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *UDPJPEGSource) LatestFrame() []byte { return s.slot.load() }

// LocalAddr returns the bound UDP address, useful when BindPort is 0 and the
// OS assigns an ephemeral port.
func (s *UDPJPEGSource) LocalAddr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// RTPH264Source is the RTP/H.264 ingest variant: it spawns an external
// decode pipeline and reads a stream of concatenated JPEGs from its
// stdout via jpegstream.Extractor. The decoder's contract is narrow:
// stdout is JPEGs, stderr is diagnostic, and exit surfaces through the
// Exited channel; nothing beyond the configured caps string is relied on.
type RTPH264Source struct {
	decoderPath string
	bindHost    string
	bindPort    int
	payloadType int
	log         *logging.Logger

	slot   frameSlot
	cmd    *exec.Cmd
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Exited is closed when the subprocess terminates, whether cleanly or
	// not; the supervisor may select on it to decide whether to restart.
	Exited chan struct{}
}

func NewRTPH264Source(decoderPath, bindHost string, bindPort, payloadType int, log *logging.Logger) *RTPH264Source {
	return &RTPH264Source{
		decoderPath: decoderPath,
		bindHost:    bindHost,
		bindPort:    bindPort,
		payloadType: payloadType,
		log:         log,
		Exited:      make(chan struct{}),
	}
}

func (s *RTPH264Source) Start(ctx context.Context) error {
	caps := fmt.Sprintf(
		"udpsrc address=%s port=%d caps=\"application/x-rtp,media=video,encoding-name=H264,payload=%d,clock-rate=90000\" ! rtph264depay ! h264parse ! avdec_h264 ! jpegenc ! fdsink",
		s.bindHost, s.bindPort, s.payloadType,
	)
	s.cmd = exec.Command(s.decoderPath, "-c", caps)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening decoder stdout pipe: %w", err)
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening decoder stderr pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("starting decoder %s: %w", s.decoderPath, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.drainStderr(stderr)
	go s.readLoop(runCtx, stdout)
	return nil
}

func (s *RTPH264Source) drainStderr(r io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.log.Debugf("decoder: %s", scanner.Text())
	}
}

func (s *RTPH264Source) readLoop(ctx context.Context, stdout io.Reader) {
	defer s.wg.Done()
	defer close(s.Exited)

	ex := jpegstream.New()
	chunk := make([]byte, 32*1024)

	go func() {
		<-ctx.Done()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	}()

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			ex.Feed(chunk[:n])
			for {
				frame, ok := ex.Next()
				if !ok {
					break
				}
				s.slot.store(frame)
			}
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warnf("decode pipeline terminated: %v", err)
			return
		}
	}
}

func (s *RTPH264Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.cmd != nil {
		s.cmd.Wait()
	}
}

func (s *RTPH264Source) LatestFrame() []byte { return s.slot.load() }
