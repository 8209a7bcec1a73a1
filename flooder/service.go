package flooder

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	fmetrics "github.com/shafiqsaaidin/badvpn/flooder/metrics"
	"github.com/shafiqsaaidin/badvpn/internal/cliapp"
	"github.com/shafiqsaaidin/badvpn/internal/metrics"
	"github.com/shafiqsaaidin/badvpn/serverconn"
)

// ErrAlreadyStopped is returned by Stop beyond the first call.
var ErrAlreadyStopped = errors.New("flooder: already stopped")

// Service wires the flooder together: metrics, transport security, the
// relay connection and the lifecycle driver. It implements
// cliapp.Lifecycle.
type Service struct {
	log     log.Logger
	version string

	metrics       fmetrics.Metricer
	metricsServer *metrics.Server

	tlsConfig *tls.Config
	conn      *serverconn.Client
	driver    *Driver

	closeApp context.CancelCauseFunc

	closing atomic.Bool
	stopped atomic.Bool
}

var _ cliapp.Lifecycle = (*Service)(nil)

// ServiceFromConfig builds the full service from a checked Config. On any
// init failure the partially-built service is stopped before returning.
func ServiceFromConfig(ctx context.Context, cfg *Config, logger log.Logger, closeApp context.CancelCauseFunc) (*Service, error) {
	s := &Service{
		log:      logger,
		version:  cfg.Version,
		metrics:  fmetrics.NoopMetrics,
		closeApp: closeApp,
	}
	if err := s.initFromConfig(ctx, cfg); err != nil {
		return nil, errors.Join(fmt.Errorf("init flooder: %w", err), s.Stop(ctx))
	}
	return s, nil
}

func (s *Service) initFromConfig(ctx context.Context, cfg *Config) error {
	if err := s.initMetrics(cfg); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if err := s.initTLS(cfg); err != nil {
		return fmt.Errorf("init transport security: %w", err)
	}
	if err := s.initConn(cfg); err != nil {
		return fmt.Errorf("init relay connection: %w", err)
	}
	s.driver = NewDriver(s.log, s.metrics, s.conn, cfg.TargetIDs())
	return nil
}

func (s *Service) initMetrics(cfg *Config) error {
	if !cfg.MetricsConfig.Enabled {
		return nil
	}
	m := fmetrics.NewMetrics("default")
	s.metrics = m

	srv, err := metrics.StartServer(m.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
	if err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.metricsServer = srv
	s.log.Info("Started metrics server", "addr", srv.Addr())
	return nil
}

func (s *Service) initTLS(cfg *Config) error {
	if !cfg.SSL {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
	if err != nil {
		return fmt.Errorf("load client certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ServerName:         cfg.TLSServerName(),
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(1),
	}
	if cfg.SSLCA != "" {
		pem, err := os.ReadFile(cfg.SSLCA)
		if err != nil {
			return fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %q", cfg.SSLCA)
		}
		tlsCfg.RootCAs = pool
	}
	s.tlsConfig = tlsCfg
	return nil
}

func (s *Service) initConn(cfg *Config) error {
	conn, err := serverconn.NewClient(s.log, serverconn.Config{
		Addr:               cfg.ServerAddr,
		TLSConfig:          s.tlsConfig,
		KeepaliveInterval:  cfg.KeepaliveInterval,
		MinBufferedPackets: cfg.MinBufferedPackets,
		NetworkTimeout:     cfg.NetworkTimeout,
	})
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Start connects to the relay and begins flooding once it is ready.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Starting flooder", "version", s.version)
	if err := s.driver.Start(ctx); err != nil {
		return err
	}
	s.metrics.RecordInfo(s.version)
	s.metrics.RecordUp()

	// A connection failure brings the whole app down; a requested stop
	// does not.
	go func() {
		<-s.driver.Done()
		if s.closing.Load() {
			return
		}
		err := s.driver.Err()
		if err == nil {
			err = errors.New("flooder terminated unexpectedly")
		}
		s.closeApp(err)
	}()
	return nil
}

// Stop tears the service down in reverse construction order.
func (s *Service) Stop(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrAlreadyStopped
	}
	s.closing.Store(true)
	s.log.Info("Stopping flooder")

	var result error
	if s.driver != nil {
		if err := s.driver.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("stop driver: %w", err))
		}
	} else if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("close relay connection: %w", err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("stop metrics server: %w", err))
		}
	}

	if result == nil {
		s.stopped.Store(true)
		s.log.Info("Flooder stopped")
	}
	return result
}

// Stopped reports whether Stop completed without error.
func (s *Service) Stopped() bool {
	return s.stopped.Load()
}

// Driver exposes the lifecycle controller; tests only.
func (s *Service) Driver() *Driver {
	return s.driver
}
