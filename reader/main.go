package reader

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	clconfig "github.com/metrico/cloki-config"
	"github.com/metrico/chartql/reader/config"
	"github.com/metrico/chartql/reader/dbRegistry"
	"github.com/metrico/chartql/reader/metadata"
	"github.com/metrico/chartql/reader/model"
	apirouterv1 "github.com/metrico/chartql/reader/router"
	"github.com/metrico/chartql/reader/service"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/metrico/chartql/reader/utils/middleware"
	"github.com/metrico/chartql/reader/watchdog"
)

var ownHttpServer bool = false

// Version is reported by the buildinfo endpoint.
var Version = "dev"

func Init(cnf *clconfig.ClokiConfig, app *mux.Router) {
	config.Cloki = cnf

	//Set to max cpu if the value is equals 0
	if config.Cloki.Setting.SYSTEM_SETTINGS.CPUMaxProcs == 0 {
		runtime.GOMAXPROCS(runtime.NumCPU())
	} else {
		runtime.GOMAXPROCS(config.Cloki.Setting.SYSTEM_SETTINGS.CPUMaxProcs)
	}

	logger.InitLogger()

	if app == nil {
		app = mux.NewRouter()
		ownHttpServer = true
	}

	configureAsHTTPServer(app)
}

func configureAsHTTPServer(acc *mux.Router) {
	httpURL := func() string {
		stream := jsoniter.ConfigFastest.BorrowStream(nil)
		defer jsoniter.ConfigFastest.ReturnStream(stream)
		stream.WriteRaw(config.Cloki.Setting.HTTP_SETTINGS.Host)
		stream.WriteRaw(":")
		stream.WriteInt64(int64(config.Cloki.Setting.HTTP_SETTINGS.Port))
		return string(stream.Buffer())
	}()
	applyMiddlewares(acc)

	performV1APIRouting(acc)

	if ownHttpServer {
		httpStart(acc, httpURL)
	}
}

func applyMiddlewares(acc *mux.Router) {
	if !ownHttpServer {
		return
	}
	if config.Cloki.Setting.AUTH_SETTINGS.BASIC.Username != "" &&
		config.Cloki.Setting.AUTH_SETTINGS.BASIC.Password != "" {
		acc.Use(middleware.BasicAuthMiddleware(config.Cloki.Setting.AUTH_SETTINGS.BASIC.Username,
			config.Cloki.Setting.AUTH_SETTINGS.BASIC.Password, "/ready"))
	}
	acc.Use(middleware.AcceptEncodingMiddleware("/metrics"))
	if config.Cloki.Setting.HTTP_SETTINGS.Cors.Enable {
		acc.Use(middleware.CorsMiddleware(config.Cloki.Setting.HTTP_SETTINGS.Cors.Origin))
	}
	acc.Use(middleware.LoggingMiddleware("[{{.status}}] {{.method}} {{.url}} - LAT:{{.latency}}"))
}

func httpStart(server *mux.Router, httpURL string) {
	logger.Info("Starting service")
	listener, err := net.Listen("tcp", httpURL)
	if err != nil {
		logger.Error("Error creating listener:", err)
		panic(err)
	}
	logger.Info("Server is listening on", httpURL)
	if err := http.Serve(listener, server); err != nil {
		logger.Error("Error serving:", err)
		panic(err)
	}
}

func performV1APIRouting(acc *mux.Router) {
	dbRegistry.Init()
	sd := &model.ServiceData{Session: dbRegistry.Registry}

	sources, err := config.LoadSources(config.SourcesPath)
	if err != nil {
		logger.Error("[CQR001] ", err)
		panic(err)
	}
	logger.Info("Loaded ", len(sources), " sources")

	md := metadata.New(service.NewMetadataSource(sd), metadata.NewCache())
	chartService, err := service.NewChartService(md, service.NewEstimateService(sd), sources,
		config.RenderCacheSize)
	if err != nil {
		logger.Error("[CQR002] ", err)
		panic(err)
	}

	apirouterv1.RouteChartApis(acc, chartService)
	apirouterv1.RouteSearchApis(acc, chartService)
	wd := watchdog.New(dbRegistry.Registry, time.Second*5, time.Minute)
	go wd.Run(context.Background())
	apirouterv1.RouteMiscApis(acc, wd, Version)
}
