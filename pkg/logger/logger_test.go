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
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer EnableDebug(false)

	l := New("Cycle").With("office")
	l.Info("duty %.2f", 0.5)
	l.Warn("late")
	l.Error("switch failed")
	EnableDebug(false)
	l.Debug("hidden")
	EnableDebug(true)
	l.Debug("shown")

	out := buf.String()
	assert.Contains(t, out, "[Cycle:office] INFO: duty 0.50")
	assert.Contains(t, out, "[Cycle:office] WARN: late")
	assert.Contains(t, out, "[Cycle:office] ERROR: (logger_test.go:")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "DEBUG: shown")
}

func TestFatalPanics(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	assert.PanicsWithValue(t, "no zones", func() { New("Main").Fatal("no %s", "zones") })
	assert.Contains(t, buf.String(), "FATAL")
}

func TestTailLines(t *testing.T) {
	in := strings.Join([]string{
		"[A] INFO: one",
		"[A] ERROR: two",
		"[A] INFO: three",
		"[A] ERROR: four",
	}, "\n")
	out, err := tailLines(strings.NewReader(in), 2, "")
	require.NoError(t, err)
	assert.Equal(t, "[A] INFO: three\n[A] ERROR: four", out)

	out, err = tailLines(strings.NewReader(in), 5, "ERROR")
	require.NoError(t, err)
	assert.Equal(t, "[A] ERROR: two\n[A] ERROR: four", out)
}

func TestWebToggleNeedsPost(t *testing.T) {
	defer EnableDebug(false)
	EnableDebug(false)
	s := WebService()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/toggle", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, IsDebug())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/toggle", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, IsDebug())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?lines=10&level=warn", nil))
	assert.Contains(t, rec.Body.String(), "Last 10 WARN lines")
}
