package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
)

// fitRequest previews session geometry without pixels: the caller supplies
// source dimensions and the gestures to replay.
type fitRequest struct {
	Image     domain.Dimensions  `json:"image"`
	Container *domain.Dimensions `json:"container,omitempty"`
	CropBox   domain.CropBoxSpec `json:"crop_box"`
	Intents   []domain.Intent    `json:"intents,omitempty"`
}

type fitResponse struct {
	Classification domain.Classification `json:"classification"`
	Viewport       geometry.Viewport     `json:"viewport"`
	Covers         bool                  `json:"covers"`
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req fitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.fit(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrInvalidGeometry) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	s.metrics.fitPreviews.WithLabelValues(resp.Classification.String()).Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fit(req fitRequest) (fitResponse, error) {
	if !req.Image.Valid() {
		return fitResponse{}, fmt.Errorf("image: %w", domain.ErrInvalidGeometry)
	}
	if err := req.CropBox.Validate(); err != nil {
		return fitResponse{}, fmt.Errorf("crop_box: %w", err)
	}
	container := s.container
	if req.Container != nil {
		container = *req.Container
	}

	state, err := geometry.NewState(req.Image, container, req.CropBox)
	if err != nil {
		return fitResponse{}, err
	}

	for i, in := range req.Intents {
		if err := state.Apply(in); err != nil {
			return fitResponse{}, fmt.Errorf("intents[%d]: %w", i, err)
		}
	}

	return fitResponse{
		Classification: raster.Classify(req.Image, req.CropBox),
		Viewport:       state.Viewport(),
		Covers:         geometry.Covers(state.Transform(), req.Image, state.CropBox()),
	}, nil
}
