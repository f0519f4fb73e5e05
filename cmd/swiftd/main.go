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

// Command swiftd is a reactor-driven static file server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/nabbar/swiftd/config"
	"github.com/nabbar/swiftd/internal/logring"
	"github.com/nabbar/swiftd/internal/server"
	"github.com/nabbar/swiftd/logger"
)

var version = "dev"

func main() {
	var confPath string

	var showVersion bool

	var showHelpAlt bool

	root := &cobra.Command{
		Use:   "swiftd",
		Short: "A reactor-driven static file server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showHelpAlt {
				return cmd.Help()
			}
			if showVersion {
				fmt.Println("swiftd " + version)
				return nil
			}
			return run(confPath)
		},
	}
	root.Flags().StringVarP(&confPath, "conf", "c", "", "path to the configuration file (required)")
	root.Flags().BoolVarP(&showVersion, "version", "V", false, "print the version and exit")
	// cobra's builtin help flag only binds -h; the original CLI also
	// accepts -? as a synonym, so bind it separately to the same action.
	root.Flags().BoolVarP(&showHelpAlt, "help-alt", "?", false, "show help")
	_ = root.Flags().MarkHidden("help-alt")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(confPath string) error {
	// The original ignores SIGPIPE so a write to a peer that already closed
	// its read side surfaces as an EPIPE return value instead of killing
	// the process.
	signal.Ignore(syscall.SIGPIPE)

	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("swiftd: %w", err)
	}

	log := logger.New(levelFromConfig(cfg.LogLevel))
	ring := logring.New(cfg.LogDir, cfg.ProgName, 0)
	log.AddHook(ring)
	defer func() { _ = ring.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, server.Config{
		IPAddr:  cfg.IPAddr,
		Port:    cfg.Port,
		DocRoot: cfg.Root,
		Workers: cfg.ThreadNum,
		IdleMS:  0,
	}, log)
	if err != nil {
		return fmt.Errorf("swiftd: %w", err)
	}
	defer func() { _ = srv.Close() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Entry(logger.InfoLevel, "swiftd listening").
		Field("addr", cfg.IPAddr).Field("port", cfg.Port).Log()

	return srv.Run(ctx)
}

// levelFromConfig maps the configuration file's 1 (FATAL) … 6 (TRACE) scale
// onto logrus's levels, which run the opposite direction (Panic=0 … Trace=6).
func levelFromConfig(n int) logger.Level {
	switch n {
	case 1:
		return logger.FatalLevel
	case 2:
		return logger.ErrorLevel
	case 3:
		return logger.WarnLevel
	case 4:
		return logger.InfoLevel
	case 5, 6:
		return logger.DebugLevel
	default:
		return logger.InfoLevel
	}
}
