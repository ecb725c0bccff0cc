package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gnutella/go-gnutella/lib/config"
	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/go-gnutella/go-gnutella/lib/metrics"
	"github.com/go-gnutella/go-gnutella/lib/util"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/go-gnutella/go-gnutella/lib/util/signals"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// DEFAULT_IDLE is how long a read waits before the connection is checked for
// shutdown.
const DEFAULT_IDLE = 5 * time.Second

// Server reads messages from TCP connections until they break or the
// context ends.
type Server struct {
	factory atomic.Pointer[messages.Factory]
	softMax atomic.Int64
	limiter *rate.Limiter
	idle    time.Duration

	// OnMessage, when set, receives every decoded message. It may be called
	// from several connections at once.
	OnMessage func(m messages.Message, from netip.AddrPort)

	decoded    atomic.Int64
	bad        atomic.Int64
	suppressed atomic.Int64

	wg sync.WaitGroup
}

// NewServer creates a server decoding with s. Bad packet log lines are
// limited to logRate per second; zero or less logs none.
func NewServer(s *messages.Settings, logRate float64) *Server {
	srv := &Server{idle: DEFAULT_IDLE}
	if logRate > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(logRate), 1)
	} else {
		srv.limiter = rate.NewLimiter(0, 0)
	}
	srv.Reload(s)
	return srv
}

// Reload swaps in new settings. Connections pick them up on their next read.
func (srv *Server) Reload(s *messages.Settings) {
	srv.factory.Store(messages.NewFactory(s))
	srv.softMax.Store(int64(s.SoftMax))
}

// SetIdle sets how long a read may block before the server checks whether
// it is shutting down.
func (srv *Server) SetIdle(d time.Duration) {
	if d > 0 {
		srv.idle = d
	}
}

// Decoded is the number of messages read successfully.
func (srv *Server) Decoded() int64 { return srv.decoded.Load() }

// BadPackets is the number of messages dropped.
func (srv *Server) BadPackets() int64 { return srv.bad.Load() }

// Serve accepts connections on ln until ctx is done. It closes ln and every
// open connection before returning.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer srv.wg.Wait()

	log.WithFields(logger.Fields{
		"at":      "cli.Server.Serve",
		"address": ln.Addr().String(),
	}).Debug("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.WithFields(logger.Fields{
					"at":      "cli.Server.Serve",
					"decoded": srv.decoded.Load(),
					"bad":     srv.bad.Load(),
				}).Debug("stopped_listening")
				return nil
			}
			return oops.Wrapf(err, "accepting on %s", ln.Addr())
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handle(ctx, conn)
		}()
	}
}

func remoteAddrPort(conn net.Conn) netip.AddrPort {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	return ap
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	from := remoteAddrPort(conn)
	fields := logger.Fields{"at": "cli.Server.handle", "remote": from.String()}
	log.WithFields(fields).Debug("connection_opened")
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(srv.idle)); err != nil {
			log.WithFields(fields).WithError(err).Debug("set_deadline_failed")
			return
		}
		m, err := srv.factory.Load().Read(conn, messages.NETWORK_TCP, int(srv.softMax.Load()), from)
		switch {
		case err == nil && m == nil:
			continue
		case errors.Is(err, io.EOF):
			log.WithFields(fields).Debug("connection_closed")
			return
		case messages.IsBadPacket(err):
			srv.badPacket(from, err)
			continue
		case err != nil:
			if ctx.Err() == nil {
				log.WithFields(fields).WithField("reason", messages.Reason(err)).WithError(err).Warn("dropping_connection")
			}
			return
		}
		srv.decoded.Add(1)
		if srv.OnMessage != nil {
			srv.OnMessage(m, from)
		}
	}
}

// badPacket logs at most the configured number of bad packets per second.
func (srv *Server) badPacket(from netip.AddrPort, err error) {
	srv.bad.Add(1)
	if !srv.limiter.Allow() {
		srv.suppressed.Add(1)
		return
	}
	log.WithFields(logger.Fields{
		"at":         "cli.Server.badPacket",
		"remote":     from.String(),
		"reason":     messages.Reason(err),
		"suppressed": srv.suppressed.Swap(0),
	}).WithError(err).Warn("bad_packet")
}

// serveMetrics exposes p on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, p *metrics.Prometheus) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logger.Fields{
				"at":      "cli.serveMetrics",
				"address": addr,
			}).WithError(err).Error("metrics_server_failed")
		}
	}()
	context.AfterFunc(ctx, func() { hs.Close() })
	return hs
}

type listenOptions struct {
	address        string
	metricsAddress string
	print          bool
	idle           time.Duration
}

func newListenCommand(root *rootOptions) *cobra.Command {
	opts := &listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept connections and decode every message received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if opts.address == "" {
				opts.address = cfg.Listen.Address
			}
			if opts.metricsAddress == "" {
				opts.metricsAddress = cfg.Listen.MetricsAddress
			}
			return runListen(cmd, root, opts, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.address, "address", "", "address to accept connections on (default listen.address)")
	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", "", "address serving /metrics (default listen.metrics_address)")
	cmd.Flags().BoolVar(&opts.print, "print", false, "print every decoded message")
	cmd.Flags().DurationVar(&opts.idle, "idle", DEFAULT_IDLE, "read timeout before checking for shutdown")
	return cmd
}

func runListen(cmd *cobra.Command, root *rootOptions, opts *listenOptions, cfg config.CodecConfig) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	prom := metrics.NewPrometheus()
	srv := NewServer(messages.NewSettings(cfg).WithMetrics(prom), cfg.Listen.BadPacketLogRate)
	srv.SetIdle(opts.idle)
	if opts.print {
		var mu sync.Mutex
		out := cmd.OutOrStdout()
		srv.OnMessage = func(m messages.Message, _ netip.AddrPort) {
			mu.Lock()
			defer mu.Unlock()
			if err := writeMessage(out, m, root.dump); err != nil {
				log.WithError(err).Warn("print_failed")
			}
		}
	}

	handled := make(chan struct{})
	go func() {
		signals.Handle(ctx)
		close(handled)
	}()
	defer func() {
		cancel()
		<-handled
	}()
	interruptID := signals.RegisterInterruptHandler(signals.Handler(cancel))
	defer signals.DeregisterInterruptHandler(interruptID)
	reloadID := signals.RegisterReloadHandler(func() {
		cfg, err := root.load()
		if err != nil {
			log.WithError(err).Warn("reload_failed")
			return
		}
		srv.Reload(messages.NewSettings(cfg).WithMetrics(prom))
		log.WithField("at", "cli.runListen").Debug("config_reloaded")
	})
	defer signals.DeregisterReloadHandler(reloadID)

	if opts.metricsAddress != "" {
		util.RegisterCloser(serveMetrics(ctx, opts.metricsAddress, prom))
	}
	defer util.CloseAll()

	ln, err := net.Listen("tcp", opts.address)
	if err != nil {
		return oops.Wrapf(err, "listening on %s", opts.address)
	}
	writeLabel(cmd.ErrOrStderr(), titleStyle.Render("listening"), ln.Addr().String())
	return srv.Serve(ctx, ln)
}
