/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package server wires the reactor, thread pool, timer index, log pipeline
// and connection registry into the single aggregate that owns every lock
// and file descriptor the connection engine touches. Nothing in
// internal/reactor, internal/timerindex or internal/workerpool keeps
// package-level state; Server is the only place these pieces are shared.
package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/swiftd/internal/connection"
	"github.com/nabbar/swiftd/internal/reactor"
	"github.com/nabbar/swiftd/internal/timerindex"
	"github.com/nabbar/swiftd/internal/workerpool"
	"github.com/nabbar/swiftd/logger"
)

// listenerData is the Event.Data token reserved for the listening socket;
// real connections are identified by their registry ID, which starts at 1.
const listenerData = 0

// maxEvents bounds how many readiness notifications one epoll_wait call can
// report.
const maxEvents = 1024

// Config is everything the aggregate needs to start listening.
type Config struct {
	IPAddr    string
	Port      int
	DocRoot   string
	Workers   int
	IdleMS    int64
}

// Server is the running aggregate: one listening socket, one reactor, one
// worker pool, one timer index, one connection registry.
type Server struct {
	cfg Config
	log *logger.Logger

	listenFd int
	react    *reactor.Reactor
	pool     *workerpool.Pool
	timers   *timerindex.Index
	conns    *connection.Registry

	idleMS int64
}

// New creates the listening socket and every supporting component, but does
// not start accepting connections — call Run for that.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Server, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	idleMS := cfg.IdleMS
	if idleMS <= 0 {
		idleMS = timerindex.TimeoutDefaultMS
	}

	lfd, err := listen(cfg.IPAddr, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	rx, err := reactor.New(maxEvents)
	if err != nil {
		_ = unix.Close(lfd)
		return nil, fmt.Errorf("server: reactor init: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		listenFd: lfd,
		react:    rx,
		timers:   timerindex.New(),
		conns:    connection.NewRegistry(ctx),
		idleMS:   idleMS,
	}
	s.pool = workerpool.New(cfg.Workers, s.onTaskDropped)

	if err = s.react.Add(lfd, reactor.Readable, listenerData); err != nil {
		_ = rx.Close()
		_ = unix.Close(lfd)
		return nil, fmt.Errorf("server: registering listener: %w", err)
	}

	return s, nil
}

func listen(addr string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	var ip [4]byte
	if addr != "" && addr != "0.0.0.0" {
		parsed := parseIPv4(addr)
		ip = parsed
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func parseIPv4(s string) [4]byte {
	var out [4]byte
	var part, idx int
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if idx < 4 {
				out[idx] = byte(part)
				idx++
			}
			part = 0
			continue
		}
		if s[i] >= '0' && s[i] <= '9' {
			part = part*10 + int(s[i]-'0')
		}
	}
	return out
}

func (s *Server) onTaskDropped(count int64) {
	s.log.Entry(logger.WarnLevel, "worker queue overflow, dropping task").
		Field("dropped_total", count).Log()
}

// Run blocks, driving the reactor loop until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.pool.Start()
	defer s.pool.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := s.nextTimeoutMS()
		events, err := s.react.Wait(timeout)
		if err != nil {
			return fmt.Errorf("server: reactor wait: %w", err)
		}

		for _, ev := range events {
			if ev.Data == listenerData {
				s.acceptLoop()
				continue
			}
			id := ev.Data
			switch {
			case ev.Err || ev.Hup:
				s.closeConn(id)
			case ev.Readable:
				s.submitRead(id)
			case ev.Writable:
				s.submitWrite(id)
			}
		}

		s.reapExpired()
	}
}

// nextTimeoutMS caps every reactor wait at one second, with or without a
// pending timer, so Run sees ctx cancellation promptly.
func (s *Server) nextTimeoutMS() int {
	deadline, ok := s.timers.NextDeadlineMS()
	if !ok {
		return 1000
	}
	remaining := deadline - nowMS()
	if remaining < 0 {
		return 0
	}
	if remaining > 1000 {
		return 1000
	}
	return int(remaining)
}

func (s *Server) reapExpired() {
	for _, id := range s.timers.Expire(nowMS()) {
		s.closeConn(id)
	}
}

// acceptLoop accepts every pending connection until EAGAIN, fixing the
// original's one-accept-per-notification limitation.
func (s *Server) acceptLoop() {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			s.log.Entry(logger.WarnLevel, "accept failed").ErrorAdd(err).Log()
			return
		}

		id := s.conns.NextID()
		c := connection.New(id, fd, s.cfg.DocRoot)
		s.conns.Store(id, c)

		if err = s.react.Add(fd, reactor.Readable, id); err != nil {
			s.log.Entry(logger.WarnLevel, "registering accepted socket").ErrorAdd(err).Log()
			_ = c.Close()
			s.conns.Delete(id)
			continue
		}
		s.timers.Add(id, nowMS()+s.idleMS)
	}
}

func (s *Server) submitRead(id uint64) {
	s.timers.Del(id)
	if !s.pool.Submit(func() { s.handleReadable(id) }) {
		s.closeConn(id)
	}
}

func (s *Server) submitWrite(id uint64) {
	if !s.pool.Submit(func() { s.handleWritable(id) }) {
		s.closeConn(id)
	}
}

func (s *Server) handleReadable(id uint64) {
	c, ok := s.conns.Load(id)
	if !ok {
		return
	}

	res, err := c.HandleReadable()
	switch res {
	case connection.NeedMore:
		if rearmErr := s.react.Rearm(c.Fd, reactor.Readable, id); rearmErr != nil {
			s.closeConn(id)
			return
		}
		s.timers.Add(id, nowMS()+s.idleMS)
	case connection.RequestReady:
		if err = c.BuildResponse(); err != nil {
			s.closeConn(id)
			return
		}
		if rearmErr := s.react.Rearm(c.Fd, reactor.Writable, id); rearmErr != nil {
			s.closeConn(id)
		}
	case connection.PeerClosed:
		s.closeConn(id)
	case connection.ProtocolError:
		if err != nil {
			s.log.Entry(logger.InfoLevel, "protocol error").ErrorAdd(err).Log()
		}
		s.closeConn(id)
	}
}

func (s *Server) handleWritable(id uint64) {
	c, ok := s.conns.Load(id)
	if !ok {
		return
	}

	done, err := c.HandleWritable()
	if err != nil {
		s.closeConn(id)
		return
	}
	if !done {
		if rearmErr := s.react.Rearm(c.Fd, reactor.Writable, id); rearmErr != nil {
			s.closeConn(id)
		}
		return
	}

	if !c.KeepAlive() {
		s.closeConn(id)
		return
	}

	c.ResetForNextRequest()
	if rearmErr := s.react.Rearm(c.Fd, reactor.Readable, id); rearmErr != nil {
		s.closeConn(id)
		return
	}
	s.timers.Add(id, nowMS()+s.idleMS)
}

func (s *Server) closeConn(id uint64) {
	s.timers.Del(id)
	c, ok := s.conns.Load(id)
	if !ok {
		return
	}
	_ = s.react.Remove(c.Fd)
	_ = c.Close()
	s.conns.Delete(id)
}

// Close releases the listening socket and the reactor. The caller is
// expected to have already returned from Run.
func (s *Server) Close() error {
	_ = unix.Close(s.listenFd)
	return s.react.Close()
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
