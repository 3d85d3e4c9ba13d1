// Package router exposes the bridge over HTTP: viewer positions, layer
// overlays and the viewer-to-map commit and selection paths.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/panoview-bridge/internal/bridge"
	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

const maxBodyBytes = 1 << 20

// Viewers is the part of the viewer session the API drives.
type Viewers interface {
	PlaceViewer(id string, at *interchange.Coordinate)
	CloseViewer(id string) bool
}

type API struct {
	MapID    string
	Registry *bridge.Registry
	Viewers  Viewers
	Logger   *slog.Logger
}

func (a API) Mount(r chi.Router) {
	r.Put("/viewers/{id}", a.placeViewer)
	r.Delete("/viewers/{id}", a.closeViewer)

	r.Get("/layers", a.listLayers)
	r.Route("/layers/{layer}", func(r chi.Router) {
		r.Post("/refresh", a.refresh)
		r.Get("/features", a.features)
		r.Get("/style", a.style)
		r.Post("/commit", a.commit)
		r.Post("/selection", a.selection)
	})
}

type positionBody struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z float64  `json:"z"`
}

func (a API) placeViewer(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var body positionBody
	if err := decode(w, r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if id == "" || body.X == nil || body.Y == nil {
		http.Error(w, "viewer id, x and y are required", http.StatusBadRequest)
		return
	}
	a.Viewers.PlaceViewer(id, &interchange.Coordinate{X: *body.X, Y: *body.Y, Z: body.Z})
	writeJSON(w, http.StatusOK, map[string]int{"changed": a.Registry.RefreshAll(r.Context())})
}

func (a API) closeViewer(w http.ResponseWriter, r *http.Request) {
	if !a.Viewers.CloseViewer(chi.URLParam(r, "id")) {
		http.Error(w, "unknown viewer", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": a.Registry.RefreshAll(r.Context())})
}

func (a API) listLayers(w http.ResponseWriter, r *http.Request) {
	out := make([]bridge.Status, 0)
	for _, b := range a.Registry.Layers() {
		st, err := b.Status(r.Context())
		if err != nil {
			a.Logger.Warn("layer status unavailable", "layer", b.Layer(), "error", err)
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a API) binding(w http.ResponseWriter, r *http.Request) (*bridge.LayerBinding, bool) {
	layer := chi.URLParam(r, "layer")
	b, ok := a.Registry.Get(a.MapID, layer)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown layer %q", layer), http.StatusNotFound)
		return nil, false
	}
	return b, true
}

func (a API) refresh(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(w, r)
	if !ok {
		return
	}
	snap, changed := b.Generate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":  changed,
		"features": snap.Collection.Len(),
		"rules":    snap.Style.Len(),
	})
}

func (a API) features(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(w, r)
	if !ok {
		return
	}
	snap, err := b.Current(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	payload := snap.Features
	if payload == nil {
		payload, _ = interchange.NewFeatureCollection().Marshal()
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a API) style(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(w, r)
	if !ok {
		return
	}
	snap, err := b.Current(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if snap.StyleText == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.ogc.sld+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(snap.StyleText))
}

type commitBody struct {
	ObjectID *int64                   `json:"objectId"`
	Points   []interchange.Coordinate `json:"points"`
}

func (a API) commit(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(w, r)
	if !ok {
		return
	}
	var body commitBody
	if err := decode(w, r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body.Points) == 0 {
		http.Error(w, "points are required", http.StatusBadRequest)
		return
	}

	err := b.AddOrUpdate(r.Context(), body.ObjectID, viewer.Measurement{Points: body.Points})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
	case errors.Is(err, bridge.ErrInvalidMeasurement):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, bridge.ErrUnknownLayer):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		a.Logger.Warn("commit failed", "layer", b.Layer(), "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

type selectionBody struct {
	ObjectIDs []int64 `json:"objectIds"`
}

func (a API) selection(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(w, r)
	if !ok {
		return
	}
	var body selectionBody
	if err := decode(w, r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := b.SelectFromViewer(r.Context(), body.ObjectIDs); err != nil {
		if errors.Is(err, bridge.ErrUnknownLayer) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
