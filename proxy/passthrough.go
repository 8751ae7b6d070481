package proxy

import (
	"strings"
	"sync"
	"time"
)

// Hosts known to break under interception, typically due to certificate
// pinning. CONNECT tunnels to these are relayed as opaque byte streams.
var defaultPassthroughHosts = []string{
	"accounts.google.com",
	"oauth2.googleapis.com",
	"login.microsoftonline.com",
	"appleid.apple.com",
	"push.apple.com",
}

// A host is learned as pinned only after repeated handshake rejections,
// and the learned entry ages out so a transient failure cannot disable
// interception forever.
const (
	failThreshold = 2
	learnedTTL    = 30 * time.Minute
)

type failureRecord struct {
	count   int
	expires time.Time
}

type passthroughList struct {
	mu      sync.RWMutex
	hosts   map[string]struct{}
	learned map[string]*failureRecord
	now     func() time.Time
}

func newPassthroughList(extra []string) *passthroughList {
	l := &passthroughList{
		hosts:   make(map[string]struct{}),
		learned: make(map[string]*failureRecord),
		now:     time.Now,
	}
	for _, h := range defaultPassthroughHosts {
		l.add(h)
	}
	for _, h := range extra {
		l.add(h)
	}
	return l
}

func (l *passthroughList) add(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	l.mu.Lock()
	l.hosts[host] = struct{}{}
	l.mu.Unlock()
}

// MarkFailed records a rejected intercepted handshake. The host is
// tunneled without interception once failThreshold rejections have
// accumulated, until the entry expires.
func (l *passthroughList) MarkFailed(host string) {
	host = strings.ToLower(hostOnly(host))
	if host == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	rec := l.learned[host]
	if rec == nil || now.After(rec.expires) {
		rec = &failureRecord{}
		l.learned[host] = rec
	}
	rec.count++
	rec.expires = now.Add(learnedTTL)
}

// Match reports whether the hostname or any parent domain is listed.
// Learned entries match the exact host only.
func (l *passthroughList) Match(host string) bool {
	host = strings.ToLower(hostOnly(host))
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.learned[host]; ok && rec.count >= failThreshold && l.now().Before(rec.expires) {
		return true
	}
	for host != "" {
		if _, ok := l.hosts[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}
