package apirouterv1

import (
	"github.com/gorilla/mux"
	controllerv1 "github.com/metrico/chartql/reader/controller"
	"github.com/metrico/chartql/reader/watchdog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RouteMiscApis(app *mux.Router, wd *watchdog.Watchdog, version string) {
	m := &controllerv1.MiscController{
		Version:  version,
		Watchdog: wd,
	}
	app.HandleFunc("/ready", m.Ready).Methods("GET")
	app.HandleFunc("/api/v1/status/buildinfo", m.Buildinfo).Methods("GET")
	app.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		}),
	)).Methods("GET")
}
