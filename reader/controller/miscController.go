package controllerv1

import (
	"net/http"

	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/metrico/chartql/reader/watchdog"
)

type MiscController struct {
	Version  string
	Watchdog *watchdog.Watchdog
}

func (uc *MiscController) Ready(w http.ResponseWriter, r *http.Request) {
	err := uc.Watchdog.Check()
	if err != nil {
		w.WriteHeader(500)
		logger.Error(err.Error())
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("OK"))
}

func (uc *MiscController) Buildinfo(w http.ResponseWriter, r *http.Request) {
	writeValue(w, r, map[string]any{
		"status": "success",
		"data":   map[string]string{"version": uc.Version},
	})
}
