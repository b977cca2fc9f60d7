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

package rootserv

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"autotpi/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func echoPath(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "path="+r.URL.Path)
}

func TestRouting(t *testing.T) {
	logger.SetOutput(io.Discard)
	rs := New(":0")
	rs.Attach("sysmon/", "host stats", http.HandlerFunc(echoPath))
	rs.Handle("/metrics", "prometheus", http.HandlerFunc(echoPath))

	assert.Equal(t, "path=/cpu", get(rs.Handler(), "/sysmon/cpu").Body.String())
	assert.Equal(t, "path=/", get(rs.Handler(), "/sysmon/").Body.String())
	assert.Equal(t, http.StatusMovedPermanently, get(rs.Handler(), "/sysmon").Code)
	assert.Equal(t, "path=/metrics", get(rs.Handler(), "/metrics").Body.String())

	// no main page yet
	assert.Equal(t, http.StatusTemporaryRedirect, get(rs.Handler(), "/").Code)
	assert.Equal(t, http.StatusNotFound, get(rs.Handler(), "/nope").Code)

	idx := get(rs.Handler(), "/index").Body.String()
	assert.Contains(t, idx, `<a href="/metrics">/metrics</a> - prometheus`)
	assert.Contains(t, idx, `<a href="/sysmon">/sysmon</a> - host stats`)
}

func TestMainPage(t *testing.T) {
	logger.SetOutput(io.Discard)
	rs := New(":0")
	rs.Attach("/", "dashboard", http.HandlerFunc(echoPath))
	assert.Equal(t, "path=/", get(rs.Handler(), "/").Body.String())
	assert.Equal(t, "path=/ws", get(rs.Handler(), "/ws").Body.String())
}
