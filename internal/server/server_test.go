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

package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/swiftd/logger"
)

func listenPort(t *testing.T, fd int) int {
	t.Helper()
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", sa)
	}
	return in4.Port
}

func startServer(t *testing.T, docRoot string) (*Server, int) {
	t.Helper()
	log := logger.New(logger.ErrorLevel)
	srv, err := New(context.Background(), Config{
		IPAddr:  "127.0.0.1",
		Port:    0,
		DocRoot: docRoot,
		Workers: 2,
		IdleMS:  60000,
	}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	port := listenPort(t, srv.listenFd)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = srv.Close()
	})
	return srv, port
}

func dialAndRequest(t *testing.T, port int, request string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+itoa(port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err = conn.Write([]byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return string(buf)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestServerServesStaticFileOverCloseConnection(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, port := startServer(t, dir)

	resp := dialAndRequest(t, port, "GET /index.html HTTP/1.0\r\nHost: x\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("expected 200 response, got: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 5") {
		t.Fatalf("expected Content-Length: 5, got: %q", resp)
	}
	if !strings.HasSuffix(resp, "hello") {
		t.Fatalf("expected body 'hello', got: %q", resp)
	}
}

func TestServerReturns404ForMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, port := startServer(t, dir)

	resp := dialAndRequest(t, port, "GET /nope.html HTTP/1.0\r\nHost: x\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 404") {
		t.Fatalf("expected 404 response, got: %q", resp)
	}
}

func TestServerKeepAliveServesTwoRequestsOnOneConnection(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.html"), []byte("AAA"), 0o644); err != nil {
		t.Fatalf("write fixture a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.html"), []byte("BBBB"), 0o644); err != nil {
		t.Fatalf("write fixture b: %v", err)
	}
	_, port := startServer(t, dir)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+itoa(port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err = conn.Write([]byte("GET /a.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")); err != nil {
		t.Fatalf("write first request: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read first response: %v", err)
	}
	first := string(buf[:n])
	if !strings.Contains(first, "AAA") {
		t.Fatalf("expected first body AAA, got %q", first)
	}

	if _, err = conn.Write([]byte("GET /b.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write second request: %v", err)
	}
	out := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	second := string(out)
	if !strings.Contains(second, "BBBB") {
		t.Fatalf("expected second body BBBB, got %q", second)
	}
}

func TestServerHTTP11WithoutConnectionHeaderCloses(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, port := startServer(t, dir)

	resp := dialAndRequest(t, port, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("expected 200 response, got: %q", resp)
	}
	if !strings.Contains(resp, "Connection: close") {
		t.Fatalf("expected Connection: close, got: %q", resp)
	}
	if !strings.HasSuffix(resp, "hello") {
		t.Fatalf("expected body 'hello', got: %q", resp)
	}
}
