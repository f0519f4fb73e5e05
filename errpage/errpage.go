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

// Package errpage renders the small HTML bodies served alongside 400/403/404
// responses. It is plain html/template over the status code, its reason
// phrase and a caller-supplied message; the message may carry request input
// such as the URI, which html/template escapes. No third-party templating
// dependency is warranted here; see DESIGN.md.
package errpage

import (
	"bytes"
	"html/template"
)

var tmpl = template.Must(template.New("errpage").Parse(
	`<!DOCTYPE html>
<html>
<head><title>{{.Code}} {{.Reason}}</title></head>
<body>
<h1>{{.Reason}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type page struct {
	Code    int
	Reason  string
	Message string
}

var reasons = map[int]string{
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
}

// Reason returns the standard HTTP reason phrase for code, used in the
// status line, or "Error" for a code this server does not otherwise issue.
func Reason(code int) string {
	if reason, ok := reasons[code]; ok {
		return reason
	}
	return "Error"
}

// Render returns the HTML body for code, with reason looked up from the
// standard set of reasons this server issues.
func Render(code int, message string) []byte {
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, page{Code: code, Reason: Reason(code), Message: message})
	return buf.Bytes()
}
