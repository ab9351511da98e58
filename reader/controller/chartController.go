package controllerv1

import (
	"net/http"

	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/service"
)

type ChartController struct {
	ChartService *service.ChartService
}

func (c *ChartController) Render(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	var req model.RenderRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := c.ChartService.Render(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (c *ChartController) Optimize(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	var req model.RenderRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := c.ChartService.Optimize(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (c *ChartController) KeyValues(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	var req model.KeyValuesRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := c.ChartService.KeyValues(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeValue(w, r, map[string]any{"calls": res})
}

func (c *ChartController) Sources(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	sources := c.ChartService.Sources()
	if sources == nil {
		sources = []model.Source{}
	}
	writeValue(w, r, map[string]any{"sources": sources})
}
