// Package server handles HTTP requests and middleware.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/config"
	"github.com/woozymasta/geoannotator/internal/export"
	"github.com/woozymasta/geoannotator/internal/geo"
	"github.com/woozymasta/geoannotator/internal/geocode"
	"github.com/woozymasta/geoannotator/internal/session"

	"github.com/rs/zerolog/log"
)

// SessionCookie is the cookie carrying the session id.
const SessionCookie = "geoannotator_session"

// maxBodySize caps request bodies carrying drawn features.
const maxBodySize = 4 << 20

type configResponse struct {
	Title  string         `json:"title"`
	Layers []config.Layer `json:"layers"`
	View   config.View    `json:"view"`
}

type sessionResponse struct {
	ID          string                  `json:"id"`
	Annotations []annotation.Annotation `json:"annotations"`
	View        session.View            `json:"view"`
}

type annotationsResponse struct {
	Annotations []annotation.Annotation `json:"annotations"`
	Added       int                     `json:"added"`
}

type searchResponse struct {
	Query   string           `json:"query"`
	Results []geocode.Result `json:"results"`
}

type viewRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type exportResponse struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Count    int    `json:"count"`
}

// session returns the caller's session, creating one and setting the cookie when needed.
func (s *ServerContext) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	sess, created := s.Sessions.Get(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func annotationsOf(sess *session.Session) []annotation.Annotation {
	items := sess.Store.All()
	if items == nil {
		items = []annotation.Annotation{}
	}
	return items
}

// HandleConfig serves the layers and default view.
func (s *ServerContext) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		Title:  s.Config.Title,
		Layers: s.Config.Layers,
		View:   s.Config.View,
	})
}

// HandleSession serves the caller's map view and annotations.
func (s *ServerContext) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	writeJSON(w, http.StatusOK, sessionResponse{
		ID:          sess.ID,
		View:        sess.View,
		Annotations: annotationsOf(sess),
	})
}

// HandleSessionDiscard ends the caller's session.
func (s *ServerContext) HandleSessionDiscard(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.Sessions.Discard(c.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleSearch geocodes the q parameter.
func (s *ServerContext) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   q,
		Results: s.Geocoder.Search(r.Context(), q),
	})
}

// HandleView centers the caller's map on a selected place at the search zoom level.
func (s *ServerContext) HandleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "lat and lon are required")
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180 {
		writeError(w, http.StatusBadRequest, "bad_request", "coordinates out of range")
		return
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	sess.View = session.View{Lat: *req.Lat, Lon: *req.Lon, Zoom: s.Config.View.SearchZoom}

	log.Debug().
		Str("session", sess.ID).
		Float64("lat", sess.View.Lat).
		Float64("lon", sess.View.Lon).
		Msg("Map view moved")

	writeJSON(w, http.StatusOK, sess.View)
}

// HandleAnnotationsList serves the caller's annotations in draw order.
func (s *ServerContext) HandleAnnotationsList(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	writeJSON(w, http.StatusOK, annotationsResponse{Annotations: annotationsOf(sess)})
}

// HandleAnnotationsAdd ingests drawn features. The request is rejected as a whole
// when any feature has an unsupported geometry.
func (s *ServerContext) HandleAnnotationsAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	features, err := geo.ParseFeatures(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid features: %v", err))
		return
	}
	for i, f := range features {
		if _, err := f.Classify(); err != nil {
			writeFailure(w, r, fmt.Errorf("feature %d: %w", i, err))
			return
		}
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	added := 0
	for _, f := range features {
		a, ok, err := sess.Store.Add(f)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if ok {
			added++
			log.Info().
				Str("session", sess.ID).
				Str("id", a.ID).
				Str("kind", string(a.Kind)).
				Msg("Annotation added")
		}
	}

	status := http.StatusOK
	if added > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, annotationsResponse{Annotations: annotationsOf(sess), Added: added})
}

// HandleAnnotationUpdate changes the label and/or notes of one annotation.
func (s *ServerContext) HandleAnnotationUpdate(w http.ResponseWriter, r *http.Request) {
	var patch annotation.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	a, err := sess.Store.Update(r.PathValue("id"), patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// HandleAnnotationDelete removes one annotation.
func (s *ServerContext) HandleAnnotationDelete(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	id := r.PathValue("id")
	if err := sess.Store.Remove(id); err != nil {
		writeFailure(w, r, err)
		return
	}

	log.Info().Str("session", sess.ID).Str("id", id).Msg("Annotation deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleAnnotationsClear removes every annotation of the caller.
func (s *ServerContext) HandleAnnotationsClear(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	n := sess.Store.Len()
	sess.Store.Clear()

	log.Info().Str("session", sess.ID).Int("count", n).Msg("Annotations cleared")
	w.WriteHeader(http.StatusNoContent)
}

// HandleExport writes the caller's annotations to a file in the export directory.
func (s *ServerContext) HandleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	items := sess.Store.All()
	path, err := s.Exporter.Export(items, format)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{Filename: path, Format: string(format), Count: len(items)})
}

// HandleExportDownload streams the caller's annotations as an attachment.
func (s *ServerContext) HandleExportDownload(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	sess := s.session(w, r)
	sess.Lock()
	defer sess.Unlock()

	var buf bytes.Buffer
	if err := export.Encode(&buf, sess.Store.All(), format); err != nil {
		writeFailure(w, r, err)
		return
	}

	name := export.Filename(time.Now(), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = buf.WriteTo(w)
}
