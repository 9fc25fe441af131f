// Package tlsreload provides a hot-reloading TLS certificate loader for the
// test-only RTMPS origin terminator (testutil/rtmpserver with a TLSConfig),
// so integration tests can swap a self-signed test certificate without
// restarting the listener. Adapted from the teacher's rtmp_ssl.go
// SslCertificateLoader (same mtime-polling reload strategy), repurposed
// from a production server's long-lived cert rotation into a short-lived
// test fixture's on-demand reload.
package tlsreload

import (
	"crypto/tls"
	"os"
	"sync"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
)

// Loader serves the current certificate to a *tls.Config via
// GetCertificate, reloading from disk whenever the cert/key mtimes change.
type Loader struct {
	certPath string
	keyPath  string

	mu          sync.Mutex
	cert        *tls.Certificate
	certModTime time.Time
	keyModTime  time.Time

	checkInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// New loads certPath/keyPath once and returns a Loader ready to serve
// them; call Watch to start polling for changes.
func New(certPath, keyPath string, checkInterval time.Duration) (*Loader, error) {
	certStat, err := os.Stat(certPath)
	if err != nil {
		return nil, err
	}
	keyStat, err := os.Stat(keyPath)
	if err != nil {
		return nil, err
	}
	cer, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	return &Loader{
		certPath:      certPath,
		keyPath:       keyPath,
		cert:          &cer,
		certModTime:   certStat.ModTime(),
		keyModTime:    keyStat.ModTime(),
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
	}, nil
}

// Watch starts the reload polling loop in a new goroutine. Stop halts it.
func (l *Loader) Watch() {
	go l.run()
}

// Stop halts the polling loop. Idempotent.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Loader) run() {
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.reloadIfChanged()
		}
	}
}

func (l *Loader) reloadIfChanged() {
	certStat, err := os.Stat(l.certPath)
	if err != nil {
		log.Error(err)
		return
	}
	keyStat, err := os.Stat(l.keyPath)
	if err != nil {
		log.Error(err)
		return
	}

	l.mu.Lock()
	unchanged := certStat.ModTime().Equal(l.certModTime) && keyStat.ModTime().Equal(l.keyModTime)
	l.mu.Unlock()
	if unchanged {
		return
	}

	cer, err := tls.LoadX509KeyPair(l.certPath, l.keyPath)
	if err != nil {
		log.Error(err)
		return
	}

	l.mu.Lock()
	l.cert = &cer
	l.certModTime = certStat.ModTime()
	l.keyModTime = keyStat.ModTime()
	l.mu.Unlock()
	log.Info("tlsreload: reloaded test TLS certificate")
}

// GetCertificateFunc returns the callback to install as
// tls.Config.GetCertificate.
func (l *Loader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.cert, nil
	}
}

// Config builds a minimal server-side *tls.Config backed by this loader.
func (l *Loader) Config() *tls.Config {
	return &tls.Config{
		GetCertificate: l.GetCertificateFunc(),
		MinVersion:     tls.VersionTLS12,
	}
}
