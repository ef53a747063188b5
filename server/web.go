package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
	"github.com/janelia-flyem/densityserver/query"
	"github.com/janelia-flyem/densityserver/storage"
)

func (s *Server) initRoutes(mux *web.Mux) {
	mux.Use(middleware.RequestID)
	mux.Use(logRequest)
	mux.Use(middleware.Recoverer)

	prefix := s.config.Server.APIPrefix
	mux.Get(prefix+"/_status", s.statusHandler)
	mux.Get(prefix+"/:source/:id", s.headerHandler)
	mux.Get(prefix+"/:source/:id/cell", s.cellHandler)
	mux.Get(prefix+"/:source/:id/box/:a/:b", s.boxHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no route for %s", r.URL.Path)
	})
}

// logRequest is middleware that logs each request with its elapsed time.
func logRequest(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := density.NewTimeLog()
		h.ServeHTTP(w, r)
		timedLog.Debugf("[%s] %s %s", middleware.GetReqID(*c), r.Method, r.URL)
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes a 400 response with the formatted message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, format, args...)
}

// NotFound writes a 404 response with the formatted message.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusNotFound, format, args...)
}

func httpError(w http.ResponseWriter, r *http.Request, code int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	density.Warningf("%s %s: %s\n", r.Method, r.URL, message)
	http.Error(w, message, code)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Version       string    `json:"version"`
		PendingCount  int64     `json:"pendingQueries"`
		Started       time.Time `json:"started"`
		Uptime        string    `json:"uptime"`
		APIPrefix     string    `json:"apiPrefix"`
		Sources       []string  `json:"sources"`
		MaxBlockCount int       `json:"maxRequestBlockCount"`
	}{
		Version:       Version,
		PendingCount:  s.pending.Value(),
		Started:       s.started,
		Uptime:        strings.TrimSuffix(humanize.RelTime(s.started, time.Now(), "", ""), " "),
		APIPrefix:     s.config.Server.APIPrefix,
		MaxBlockCount: s.config.Limits.MaxRequestBlockCount,
	}
	for src := range s.config.IDMap {
		status.Sources = append(status.Sources, src)
	}
	writeJSON(w, r, status)
}

// headerView is the JSON form of a packed file header with angles in degrees.
type headerView struct {
	FormatVersion string                `json:"formatVersion"`
	AxisOrder     density.AxisOrder     `json:"axisOrder"`
	Origin        density.Fractional    `json:"origin"`
	Dimensions    density.Fractional    `json:"dimensions"`
	SpaceGroup    format.SpaceGroup     `json:"spacegroup"`
	Channels      []string              `json:"channels"`
	ValueType     string                `json:"valueType"`
	BlockSize     int                   `json:"blockSize"`
	Sampling      []format.Sampling     `json:"sampling"`
	BlockCounts   []density.Grid        `json:"blockCounts"`
	DataBox       density.FractionalBox `json:"dataBox"`
}

func newHeaderView(h *format.Header) headerView {
	sg := h.SpaceGroup
	for i, a := range sg.Angles {
		sg.Angles[i] = a * 180 / math.Pi
	}
	blocks := make([]density.Grid, len(h.Sampling))
	for level := range blocks {
		blocks[level] = h.DataDomain(level).Blocks(h.BlockSize).SampleCount
	}
	return headerView{
		FormatVersion: h.FormatVersion,
		AxisOrder:     h.AxisOrder,
		Origin:        h.Origin,
		Dimensions:    h.Dimensions,
		SpaceGroup:    sg,
		Channels:      h.Channels,
		ValueType:     h.ValueType.String(),
		BlockSize:     h.BlockSize,
		Sampling:      h.Sampling,
		BlockCounts:   blocks,
		DataBox:       h.DataBox(),
	}
}

func (s *Server) headerHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	source, id := c.URLParams["source"], c.URLParams["id"]
	ref, found := s.config.MapFile(source, id)
	if !found {
		NotFound(w, r, "entry %s/%s not found", source, id)
		return
	}
	f, err := storage.Open(r.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		NotFound(w, r, "entry %s/%s not found", source, id)
		return
	}
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "unable to open %s/%s: %v", source, id, err)
		return
	}
	defer f.Close()
	h, err := s.executor.Headers.Load(f)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "unable to read header of %s/%s: %v", source, id, err)
		return
	}
	writeJSON(w, r, newHeaderView(h))
}

func (s *Server) cellHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	s.runQuery(c, w, r, density.CellBox{})
}

func (s *Server) boxHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	a, err := density.ParseCorner(c.URLParams["a"])
	if err != nil {
		BadRequest(w, r, "bad box corner a: %v", err)
		return
	}
	b, err := density.ParseCorner(c.URLParams["b"])
	if err != nil {
		BadRequest(w, r, "bad box corner b: %v", err)
		return
	}
	box, err := density.ParseQueryBox(r.URL.Query().Get("space"), a, b)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s.runQuery(c, w, r, box)
}

// runQuery executes a query into memory so the status code can follow the outcome.
func (s *Server) runQuery(c web.C, w http.ResponseWriter, r *http.Request, box density.QueryBox) {
	source, id := strings.ToLower(c.URLParams["source"]), strings.ToLower(c.URLParams["id"])
	ref, found := s.config.MapFile(source, id)
	if !found {
		NotFound(w, r, "entry %s/%s not found", source, id)
		return
	}
	queryStrings := r.URL.Query()
	binary, err := parseEncoding(queryStrings.Get("encoding"))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	detail, err := intParam(queryStrings.Get("detail"), s.config.Server.DefaultDetail)
	if err != nil {
		BadRequest(w, r, "bad detail: %v", err)
		return
	}
	forcedLevel, err := intParam(queryStrings.Get("forcedLevel"), 0)
	if err != nil {
		BadRequest(w, r, "bad forcedLevel: %v", err)
		return
	}
	p := query.Params{
		SourceID:    source + "/" + id,
		Ref:         ref,
		Box:         box,
		Detail:      detail,
		ForcedLevel: forcedLevel,
		Binary:      binary,
	}

	timedLog := density.NewTimeLog()
	var buf bytes.Buffer
	outcome, err := s.executor.Execute(r.Context(), p, &buf)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "unable to encode result for %s: %v", p.SourceID, err)
		return
	}
	timedLog.Infof("query %s %s %s level %d: %s (%s)", outcome.GUID, p.SourceID, box.Kind(), outcome.Level, outcome.Kind, humanize.Bytes(uint64(buf.Len())))

	ext, contentType := "cif", "text/plain; charset=utf-8"
	if binary {
		ext, contentType = "bcif", "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fmt.Sprintf("%s_%s-%s.%s", source, id, box.Kind(), ext)))
	if errors.Is(outcome.Err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		density.Warningf("unable to send query %s result: %v\n", outcome.GUID, err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, "unable to serialize response: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func parseEncoding(s string) (binary bool, err error) {
	switch strings.ToLower(s) {
	case "cif":
		return false, nil
	case "", "bcif":
		return true, nil
	}
	return false, fmt.Errorf("unknown encoding %q", s)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
