package apirouterv1

import (
	"github.com/gorilla/mux"
	controllerv1 "github.com/metrico/chartql/reader/controller"
	"github.com/metrico/chartql/reader/service"
)

func RouteChartApis(app *mux.Router, chartService *service.ChartService) {
	chartCtrl := &controllerv1.ChartController{
		ChartService: chartService,
	}
	app.HandleFunc("/api/v1/chart/render", chartCtrl.Render).Methods("POST")
	app.HandleFunc("/api/v1/chart/optimize", chartCtrl.Optimize).Methods("POST")
	app.HandleFunc("/api/v1/chart/keyValues", chartCtrl.KeyValues).Methods("POST")
	app.HandleFunc("/api/v1/sources", chartCtrl.Sources).Methods("GET")
}

func RouteSearchApis(app *mux.Router, chartService *service.ChartService) {
	searchCtrl := &controllerv1.SearchController{
		ChartService: chartService,
	}
	app.HandleFunc("/api/v1/search/explain", searchCtrl.Explain).Methods("POST")
	app.HandleFunc("/api/v1/search/sql", searchCtrl.Sql).Methods("POST")
}
