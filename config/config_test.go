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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "swiftd.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	root := t.TempDir()
	logdir := t.TempDir()
	path := writeConf(t, "root="+root+"\n"+
		"port=8080\n"+
		"threadnum=4\n"+
		"loglevel=3\n"+
		"logdir="+logdir+"\n"+
		"progname=swiftd\n"+
		"ipaddr=0.0.0.0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 || cfg.ThreadNum != 4 || cfg.LogLevel != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadDefaultsPortWhenNonPositive(t *testing.T) {
	root := t.TempDir()
	logdir := t.TempDir()
	path := writeConf(t, "root="+root+"\n"+
		"port=0\n"+
		"threadnum=1\n"+
		"loglevel=2\n"+
		"logdir="+logdir+"\n"+
		"progname=swiftd\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
}

func TestLoadRejectsLineMissingEquals(t *testing.T) {
	path := writeConf(t, "root=/srv\nbadline\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a line missing '='")
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	logdir := t.TempDir()
	path := writeConf(t, "logdir="+logdir+"\nprogname=swiftd\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation error when root is missing")
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	root := t.TempDir()
	logdir := t.TempDir()
	path := writeConf(t, "root="+root+"\n"+
		"progname=swiftd\n"+
		"logdir="+logdir+"\n"+
		"threadnum=1\n"+
		"loglevel=1\n"+
		"totally_unknown_key=yes\n")

	if _, err := Load(path); err != nil {
		t.Fatalf("unexpected error with an unknown key present: %v", err)
	}
}
