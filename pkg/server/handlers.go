package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/cudaredist/pkg/buildinfo"
	"github.com/matzehuels/cudaredist/pkg/depgraph"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/feature"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

type versionsBody struct {
	Redist   redist.Name       `json:"redist"`
	Versions []version.Version `json:"versions"`
}

type providerBody struct {
	Platform redist.Platform  `json:"platform"`
	Soname   string           `json:"soname"`
	Version  string           `json:"version"`
	Provider redist.PackageID `json:"provider"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

func (s *Server) handleRedists(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.FeatureDir)
	if err != nil && !os.IsNotExist(err) {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidPath, err, "list %s", s.cfg.FeatureDir))
		return
	}
	names := []redist.Name{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := redist.ParseName(e.Name()); err == nil {
			names = append(names, n)
		}
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	name, err := redist.ParseName(chi.URLParam(r, "redist"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	vs, err := feature.ListVersions(filepath.Join(s.cfg.FeatureDir, string(name)))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if vs == nil {
		vs = []version.Version{}
	}
	s.writeJSON(w, http.StatusOK, versionsBody{Redist: name, Versions: vs})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	name, v, err := manifestParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ctx := r.Context()
	key := s.cfg.Keyer.ManifestKey(string(name), v.String())
	if data, ok, err := s.cfg.Cache.Get(ctx, key); err == nil && ok {
		w.Header().Set("X-Cache", "hit")
		s.writeRaw(w, "application/json", data)
		return
	}

	m, err := s.load(name, v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := m.Encode()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.cfg.Cache.Set(ctx, key, data, s.cfg.TTL); err != nil {
		s.cfg.Logger.Warn("Cache write failed", "key", key, "err", err)
	}
	w.Header().Set("X-Cache", "miss")
	s.writeRaw(w, "application/json", data)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	name, v, err := manifestParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	platform := redist.LinuxX8664
	if p := q.Get("platform"); p != "" {
		if platform, err = redist.ParsePlatform(p); err != nil {
			s.writeError(w, err)
			return
		}
	}
	format := q.Get("format")
	if format == "" {
		format = "dot"
	}
	if format != "dot" && format != "svg" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "unknown graph format %q (want dot or svg)", format))
		return
	}

	m, err := s.load(name, v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, err := depgraph.Build(m, platform)
	if err != nil {
		s.writeError(w, err)
		return
	}
	dot := depgraph.ToDOT(g, depgraph.Options{Detailed: q.Get("detailed") == "true"})
	if format == "dot" {
		s.writeRaw(w, "text/vnd.graphviz", []byte(dot))
		return
	}
	svg, err := depgraph.RenderSVG(r.Context(), dot)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRaw(w, "image/svg+xml", svg)
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	platform, err := redist.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := version.Parse(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	soname := chi.URLParam(r, "soname")
	id, ok := s.cfg.Resolver.Lookup(r.Context(), platform, soname, v)
	if !ok {
		s.writeError(w, errors.New(errors.ErrCodeNotFound, "no provider for %s on %s at %s", soname, platform, v))
		return
	}
	s.writeJSON(w, http.StatusOK, providerBody{Platform: platform, Soname: soname, Version: v.String(), Provider: id})
}

func (s *Server) load(name redist.Name, v version.Version) (*feature.Manifest, error) {
	return feature.ReadManifest(filepath.Join(s.cfg.FeatureDir, string(name)), v)
}

func manifestParams(r *http.Request) (redist.Name, version.Version, error) {
	name, err := redist.ParseName(chi.URLParam(r, "redist"))
	if err != nil {
		return "", version.Version{}, err
	}
	v, err := version.Parse(chi.URLParam(r, "version"))
	if err != nil {
		return "", version.Version{}, err
	}
	return name, v, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.cfg.Logger.Warn("Write response failed", "err", err)
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.cfg.Logger.Warn("Write response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.cfg.Logger.Error("Request failed", "err", err)
	}
	s.writeJSON(w, status, errorBody{Code: errors.GetCode(err), Message: errors.UserMessage(err)})
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidVersion, errors.ErrCodeInvalidConstraint:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
