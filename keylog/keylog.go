// Package keylog provides TLS key logging in the SSLKEYLOGFILE format
// understood by Wireshark. The proxy hands the same writer to both the
// client-facing and origin-facing TLS configs, so writes are serialized
// to keep secrets from interleaving mid-line.
package keylog

import (
	"io"
	"os"
	"sync"
)

var (
	globalWriter io.Writer
	globalMu     sync.RWMutex
	initialized  bool
)

// lockedWriter serializes concurrent handshake writes.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// init checks the SSLKEYLOGFILE environment variable on startup
func init() {
	initFromEnv()
}

func initFromEnv() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if initialized {
		return
	}
	initialized = true

	path := os.Getenv("SSLKEYLOGFILE")
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		// Silently ignore errors - this is a debug feature
		return
	}
	globalWriter = &lockedWriter{w: f}
}

// Writer returns the shared key log writer, or nil if not configured.
// Transport and proxy code put this into tls.Config.KeyLogWriter.
func Writer() io.Writer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalWriter
}

// SetKeyLogFile sets the shared key log file path.
// This overrides the SSLKEYLOGFILE environment variable.
// Pass empty string to disable key logging.
func SetKeyLogFile(path string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if closer, ok := globalWriter.(io.Closer); ok {
		closer.Close()
	}
	globalWriter = nil

	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	globalWriter = &lockedWriter{w: f}
	return nil
}

// SetKeyLogWriter sets a custom key log writer.
// Pass nil to disable key logging.
func SetKeyLogWriter(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if closer, ok := globalWriter.(io.Closer); ok {
		closer.Close()
	}
	if w == nil {
		globalWriter = nil
		return
	}
	globalWriter = &lockedWriter{w: w}
}

// Close closes the shared key log writer if it was opened by this package.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if closer, ok := globalWriter.(io.Closer); ok {
		err := closer.Close()
		globalWriter = nil
		return err
	}
	globalWriter = nil
	return nil
}
