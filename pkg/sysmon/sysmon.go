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

// Package sysmon reports host and process health, including the disk
// holding the learned state.
package sysmon

import (
	"autotpi/pkg/logger"
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type Disk struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type Snapshot struct {
	GoVersion    string  `json:"go_version"`
	Goroutines   int     `json:"goroutines"`
	SystemCPU    float64 `json:"system_cpu_percent"`
	ProcessCPU   float64 `json:"process_cpu_percent"`
	SystemMemory uint64  `json:"system_memory_total"`
	SystemUsed   uint64  `json:"system_memory_used"`
	ProcessRSS   uint64  `json:"process_rss"`
	Disks        []Disk  `json:"disks"`
}

type Service struct {
	paths []string
	log   *logger.Logger
	proc  *process.Process
}

// New watches the disks holding each of paths.
func New(paths ...string) *Service {
	s := &Service{
		paths: paths,
		log:   logger.New("System Monitor"),
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Error("process stats unavailable: %v", err)
	} else {
		s.proc = p
	}
	return s
}

// Snapshot collects the current numbers. Sources that fail are left zero.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.SystemCPU = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.SystemMemory = vmem.Total
		snap.SystemUsed = vmem.Used
	}
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			snap.ProcessRSS = info.RSS
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			snap.ProcessCPU = pct
		}
	}
	for _, path := range s.paths {
		d, err := diskUsage(path)
		if err != nil {
			s.log.Debug("disk usage %s: %v", path, err)
		}
		snap.Disks = append(snap.Disks, d)
	}
	return snap
}

var funcs = template.FuncMap{
	"gb": func(b uint64) float64 { return float64(b) / (1 << 30) },
	"mb": func(b uint64) float64 { return float64(b) / (1 << 20) },
}

var page = template.Must(template.New("sysmon").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		table { border-collapse: collapse; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<p>{{.GoVersion}}, {{.Goroutines}} goroutines</p>
	<table>
		<tr><th>CPU system</th><th>CPU process</th><th>Memory used</th><th>Memory total</th><th>Process RSS</th></tr>
		<tr><td>{{printf "%.1f" .SystemCPU}}%</td><td>{{printf "%.1f" .ProcessCPU}}%</td>
			<td>{{printf "%.2f" (gb .SystemUsed)}} GB</td><td>{{printf "%.2f" (gb .SystemMemory)}} GB</td>
			<td>{{printf "%.1f" (mb .ProcessRSS)}} MB</td></tr>
	</table>
	<table>
		<tr><th>Disk</th><th>Total</th><th>Used</th><th>Free</th></tr>
		{{range .Disks}}<tr><td>{{.Path}}</td><td>{{printf "%.2f" (gb .Total)}} GB</td>
			<td>{{printf "%.2f" (gb .Used)}} GB</td><td>{{printf "%.2f" (gb .Free)}} GB</td></tr>
		{{end}}
	</table>
</body>
</html>
`))

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			s.log.Error("encode: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, snap); err != nil {
		s.log.Error("render: %v", err)
	}
}
