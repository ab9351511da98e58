package controllerv1

import (
	"context"
	"io"
	"net/http"
	"runtime/debug"

	jsoniter "github.com/json-iterator/go"
	"github.com/metrico/chartql/reader/dbRegistry"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/service"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/pkg/errors"
)

const maxBodySize = 4 * 1024 * 1024

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func tamePanic(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		logger.Error("[CQC001] panic:", err, " stack:", string(debug.Stack()))
		logger.Error("query: ", r.URL.String())
		w.WriteHeader(500)
		w.Write([]byte("Internal Server Error"))
	}
}

func readBody(r *http.Request, res any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, res); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

// errorStatus maps a service failure to the HTTP status. Anything unclassified is a bad request:
// almost every failure is a config the compiler refuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownSource), errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, dbRegistry.ErrUnknownConnection):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, code int, msg string) {
	stream := jsoniter.ConfigFastest.BorrowStream(nil)
	defer jsoniter.ConfigFastest.ReturnStream(stream)
	stream.WriteObjectStart()
	stream.WriteObjectField("error")
	stream.WriteString(msg)
	stream.WriteObjectEnd()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(stream.Buffer())
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= 500 {
		logger.Error("[CQC002] ", r.URL.Path, ": ", err)
	} else {
		logger.Debug(r.URL.Path, ": ", err)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeValue(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("[CQC003] ", r.URL.Path, ": ", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, body)
}
