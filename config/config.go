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

// Package config reads the server's line-oriented key=value configuration
// file. It leans on viper configured for the "properties" format (the same
// transitive dependency the teacher's go.mod already commits to) for the
// parsing itself, and go-playground/validator/v10 for the post-parse
// validation the teacher's own server config types use.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/nabbar/swiftd/apperr"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Config holds the recognized configuration keys. Unknown keys in the
// source file are ignored; every field here is validated after parsing.
type Config struct {
	Root      string `mapstructure:"root" validate:"required,dir"`
	Port      int    `mapstructure:"port" validate:"min=0"`
	ThreadNum int    `mapstructure:"threadnum" validate:"min=1"`
	LogLevel  int    `mapstructure:"loglevel" validate:"min=1,max=6"`
	LogDir    string `mapstructure:"logdir" validate:"required"`
	ProgName  string `mapstructure:"progname" validate:"required"`
	IPAddr    string `mapstructure:"ipaddr"`
}

// DefaultPort is substituted for Port when the file specifies <= 0 or omits
// the key entirely, per the configuration rules.
const DefaultPort = 3000

var validate = validator.New()

// Load reads and validates the config file at path. It enforces, ahead of
// handing the buffer to viper, the stricter rule that every non-blank,
// non-comment line must contain an "=" — viper's own "properties" parser is
// more permissive than that and would otherwise silently accept a malformed
// line as a valueless key.
func Load(path string) (*Config, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, apperr.New(apperr.CodeConfigRead, "reading config file", err)
	}

	if err = checkLines(raw); err != nil {
		return nil, apperr.New(apperr.CodeConfigParse, "parsing config file", err)
	}

	v := viper.New()
	v.SetConfigType("properties")
	if err = v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, apperr.New(apperr.CodeConfigParse, "parsing config file", err)
	}

	cfg := &Config{}
	if err = v.Unmarshal(cfg); err != nil {
		return nil, apperr.New(apperr.CodeConfigParse, "decoding config file", err)
	}

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel < 1 {
		cfg.LogLevel = 1
	} else if cfg.LogLevel > 6 {
		cfg.LogLevel = 6
	}

	if err = validate.Struct(cfg); err != nil {
		return nil, apperr.New(apperr.CodeConfigValidate, "validating config file", err)
	}
	return cfg, nil
}

func checkLines(raw []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if !strings.Contains(line, "=") {
			return fmt.Errorf("line %d: missing '=' in %q", lineNo, line)
		}
	}
	return scanner.Err()
}
