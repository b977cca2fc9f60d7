// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logger

import (
	"bufio"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

const maxTailLines = 5000

// Service is the /logger page: recent log lines, debug toggle, truncate.
type Service struct {
	mu        sync.Mutex
	tailLines int
}

func WebService() *Service {
	return &Service{tailLines: 250}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/toggle", "/clear":
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/toggle" {
			EnableDebug(!IsDebug())
		} else if err := s.clearLog(); err != nil {
			http.Error(w, "failed to clear log: "+err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/logger/", http.StatusSeeOther)
	default:
		s.renderPage(w, r)
	}
}

var logPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>autotpi log</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2em; background: #f9f9f9; color: #333; }
    .btn { padding:0.5em 1em; margin:0.2em; background:#007bff; color:white; border:none; border-radius:4px; cursor:pointer; }
    .btn-danger { background:#dc3545; }
    pre.log { background:#222; color:#eee; padding:1em; border-radius:6px; max-height:600px; overflow:auto; }
  </style>
</head>
<body>
  <h1>Logger</h1>
  <p><b>Debug:</b> {{if .Debug}}<span style="color:green;">ON</span>{{else}}<span style="color:red;">OFF</span>{{end}}</p>
  <form method="POST" action="/logger/toggle" style="display:inline;">
    <button class="btn" type="submit">Toggle Debug</button>
  </form>
  <form method="POST" action="/logger/clear" style="display:inline;">
    <button class="btn btn-danger" type="submit">Clear Log</button>
  </form>
  <p>
    <a href="?lines={{.Lines}}">all</a> |
    <a href="?lines={{.Lines}}&level=WARN">warn</a> |
    <a href="?lines={{.Lines}}&level=ERROR">error</a>
  </p>
  <h2>Last {{.Lines}} {{.Level}} lines</h2>
  <pre class="log">{{.Log}}</pre>
</body>
</html>
`))

// renderPage accepts ?lines=N and ?level=WARN|ERROR|DEBUG.
func (s *Service) renderPage(w http.ResponseWriter, r *http.Request) {
	n := s.tailLines
	if v, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && v > 0 {
		n = min(v, maxTailLines)
	}
	level := strings.ToUpper(r.URL.Query().Get("level"))

	logs, err := s.tail(n, level)
	if err != nil {
		logs = "error reading log: " + err.Error()
	}
	_ = logPage.Execute(w, map[string]any{
		"Debug": IsDebug(),
		"Lines": n,
		"Level": level,
		"Log":   logs,
	})
}

// clearLog truncates the log file in place and reopens it.
func (s *Service) clearLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if logFile == nil {
		return nil
	}
	name := logFile.Name()
	logFile.Close()

	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	logFile = f
	SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// tail returns the last n lines of the log file containing " level:".
func (s *Service) tail(n int, level string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logFile == nil {
		return "", nil
	}
	f, err := os.Open(logFile.Name())
	if err != nil {
		return "", err
	}
	defer f.Close()
	return tailLines(f, n, level)
}

func tailLines(r io.Reader, n int, level string) (string, error) {
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if level != "" && !strings.Contains(line, " "+level+":") {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], line)
		} else {
			ring = append(ring, line)
		}
	}
	return strings.Join(ring, "\n"), sc.Err()
}

func newBaseLogger(w io.Writer) *log.Logger {
	return log.New(w, "", log.LstdFlags)
}
