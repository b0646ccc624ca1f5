// Package proxy owns the listen socket and the accept loop: it spawns one
// session per accepted connection and drives graceful shutdown. Grounded on
// the teacher's socks.Server (socks/server.go: context.Context plus cancel,
// acceptConnLoop spawning a goroutine per conn).
package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gatekeeperd/gatekeeper/internal/connector"
	"github.com/gatekeeperd/gatekeeper/internal/logging"
	"github.com/gatekeeperd/gatekeeper/internal/rule"
	"github.com/gatekeeperd/gatekeeper/internal/session"
)

// Proxy accepts SOCKS5 connections on a single TCP listener and supervises
// their sessions.
type Proxy struct {
	listener    net.Listener
	rules       *rule.Set
	connector   connector.Connector
	log         *logging.ZeroLogger
	relayBuffer int

	ctx    context.Context
	cancel context.CancelFunc

	wg    sync.WaitGroup
	liveM sync.Mutex
	live  map[net.Conn]struct{}
}

// Config carries the values New needs to bind and start accepting.
type Config struct {
	Addr        string
	Rules       *rule.Set
	Connector   connector.Connector
	Log         *logging.ZeroLogger
	RelayBuffer int
}

// New binds Addr and returns a Proxy ready for Serve. It does not start
// accepting connections until Serve is called.
func New(cfg Config) (*Proxy, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Proxy{
		listener:    ln,
		rules:       cfg.Rules,
		connector:   cfg.Connector,
		log:         cfg.Log,
		relayBuffer: cfg.RelayBuffer,
		ctx:         ctx,
		cancel:      cancel,
		live:        make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listen address, useful when Config.Addr used port
// 0 (as tests do).
func (p *Proxy) Addr() net.Addr { return p.listener.Addr() }

// Serve runs the accept loop until Shutdown is called or the listener
// errors out. It blocks the calling goroutine; run it in its own goroutine
// in production.
func (p *Proxy) Serve() error {
	p.log.Infof("listening on %s", p.listener.Addr())
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return nil
			default:
				if ne, ok := err.(net.Error); ok && ne.Temporary() {
					continue
				}
				return err
			}
		}
		p.track(conn)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.untrack(conn)
			sess := session.New(conn, p.rules, p.connector, p.log, p.relayBuffer)
			sess.Run()
		}()
	}
}

func (p *Proxy) track(conn net.Conn) {
	p.liveM.Lock()
	p.live[conn] = struct{}{}
	p.liveM.Unlock()
}

func (p *Proxy) untrack(conn net.Conn) {
	p.liveM.Lock()
	delete(p.live, conn)
	p.liveM.Unlock()
}

// LiveSessions returns the number of currently tracked client connections.
func (p *Proxy) LiveSessions() int {
	p.liveM.Lock()
	defer p.liveM.Unlock()
	return len(p.live)
}

// Shutdown stops accepting new connections, closes every live client socket
// to unblock their pumps, and waits up to grace for sessions to reach
// Closed before returning, per §4.6's five-step shutdown sequence.
func (p *Proxy) Shutdown(grace time.Duration) {
	p.cancel()
	p.listener.Close()

	p.liveM.Lock()
	for conn := range p.live {
		conn.Close()
	}
	p.liveM.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.log.Infof("shutdown grace period elapsed with %d sessions still in flight", p.LiveSessions())
	}
}
