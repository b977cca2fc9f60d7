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
	"autotpi/pkg/logger"
	"context"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"
)

type page struct {
	Path string
	Desc string
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>autotpi</title></head><body>
<h1>autotpi</h1><ul>
{{range .}}<li><a href="{{.Path}}">{{.Path}}</a> - {{.Desc}}</li>
{{end}}</ul></body></html>
`))

// RootServer serves every sub-handler of the app on one address.
type RootServer struct {
	log   *logger.Logger
	addr  string
	mux   *http.ServeMux
	pages []page
	main  http.Handler // optional handler for '/'
}

func New(addr string) *RootServer {
	rs := &RootServer{
		addr: addr,
		mux:  http.NewServeMux(),
		log:  logger.New("HTTPServer"),
	}
	rs.mux.HandleFunc("/index", rs.handleIndex)
	rs.mux.HandleFunc("/", rs.handleRoot)
	return rs
}

// Attach mounts handler under path with the prefix stripped, so the
// sub-handler sees "/" for its own root. Path "/" sets the main page.
func (rs *RootServer) Attach(path, desc string, handler http.Handler) {
	if path == "/" {
		rs.main = handler
		rs.log.Info("Main page registered at /")
		return
	}
	path = "/" + strings.Trim(path, "/")
	rs.pages = append(rs.pages, page{path, desc})
	rs.mux.Handle(path+"/", http.StripPrefix(path, handler))
	// the bare prefix would otherwise fall through to the main page
	rs.mux.Handle(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently))
	rs.log.Info("Attach: %s", path)
}

// Handle mounts handler on exactly path, prefix kept.
func (rs *RootServer) Handle(path, desc string, handler http.Handler) {
	rs.pages = append(rs.pages, page{path, desc})
	rs.mux.Handle(path, handler)
	rs.log.Info("Handle: %s", path)
}

func (rs *RootServer) Handler() http.Handler {
	return rs.mux
}

func (rs *RootServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	pages := append([]page(nil), rs.pages...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, pages); err != nil {
		rs.log.Error("index: %v", err)
	}
}

func (rs *RootServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if rs.main != nil {
		rs.main.ServeHTTP(w, r)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/index", http.StatusTemporaryRedirect)
}

// Run serves until ctx is canceled.
func (rs *RootServer) Run(ctx context.Context) {
	rs.log.Info("Listening on %s", rs.addr)

	srv := &http.Server{
		Addr:              rs.addr,
		Handler:           rs.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rs.log.Error("shutdown: %v", err)
		}
		rs.log.Info("Stopped")
	case err := <-errCh:
		if err != nil {
			rs.log.Error("Stopped: %v", err)
		}
	}
}
