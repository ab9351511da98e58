package controllerv1

import (
	"net/http"

	"github.com/metrico/chartql/reader/model"
	"github.com/metrico/chartql/reader/service"
)

type SearchController struct {
	ChartService *service.ChartService
}

func (s *SearchController) Explain(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	var req model.SearchExplainRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeValue(w, r, map[string]string{"explanation": s.ChartService.ExplainSearch(r.Context(), req.Query)})
}

func (s *SearchController) Sql(w http.ResponseWriter, r *http.Request) {
	defer tamePanic(w, r)
	var req model.SearchSqlRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.ChartService.SearchSql(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeValue(w, r, map[string]string{"sql": res})
}
