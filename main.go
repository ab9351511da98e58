package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	clconfig "github.com/metrico/cloki-config"
	"github.com/metrico/cloki-config/config"
	"github.com/metrico/chartql/reader"
	readerconfig "github.com/metrico/chartql/reader/config"
	"github.com/metrico/chartql/reader/utils/logger"
	"github.com/metrico/chartql/reader/utils/middleware"
)

var appFlags CommandLineFlags

// params for Flags
type CommandLineFlags struct {
	ShowHelpMessage *bool   `json:"help"`
	ShowVersion     *bool   `json:"version"`
	ConfigPath      *string `json:"config_path"`
	SourcesPath     *string `json:"sources_path"`
}

/* init flags */
func initFlags() {
	appFlags.ShowHelpMessage = flag.Bool("help", false, "show help")
	appFlags.ShowVersion = flag.Bool("version", false, "show version")
	appFlags.ConfigPath = flag.String("config", "", "the path to the config file")
	appFlags.SourcesPath = flag.String("sources", "", "the path to the sources file")
	flag.Parse()
}

func boolEnv(key string) (bool, error) {
	val := strings.ToLower(os.Getenv(key))
	for _, v := range []string{"true", "1", "yes", "y"} {
		if v == val {
			return true, nil
		}
	}
	for _, v := range []string{"false", "0", "no", "n", ""} {
		if v == val {
			return false, nil
		}
	}
	return false, fmt.Errorf("%s value must be one of [no, n, false, 0, yes, y, true, 1]", key)
}

func portCHEnv(cfg *clconfig.ClokiConfig) error {
	if len(cfg.Setting.DATABASE_DATA) > 0 {
		return nil
	}
	cfg.Setting.DATABASE_DATA = []config.ClokiBaseDataBase{{
		Node:         "clickhouse",
		ReadTimeout:  30,
		WriteTimeout: 30,
		MaxOpenConn:  20,
		MaxIdleConn:  5,
	}}
	db := "default"
	if os.Getenv("CLICKHOUSE_DB") != "" {
		db = os.Getenv("CLICKHOUSE_DB")
	}
	cfg.Setting.DATABASE_DATA[0].Name = db
	if os.Getenv("CLUSTER_NAME") != "" {
		cfg.Setting.DATABASE_DATA[0].ClusterName = os.Getenv("CLUSTER_NAME")
	}
	server := "localhost"
	if os.Getenv("CLICKHOUSE_SERVER") != "" {
		server = os.Getenv("CLICKHOUSE_SERVER")
	}
	cfg.Setting.DATABASE_DATA[0].Host = server
	strPort := "9000"
	if os.Getenv("CLICKHOUSE_PORT") != "" {
		strPort = os.Getenv("CLICKHOUSE_PORT")
	}
	port, err := strconv.ParseUint(strPort, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}
	cfg.Setting.DATABASE_DATA[0].Port = uint32(port)
	if os.Getenv("CLICKHOUSE_AUTH") != "" {
		auth := strings.SplitN(os.Getenv("CLICKHOUSE_AUTH"), ":", 2)
		cfg.Setting.DATABASE_DATA[0].User = auth[0]
		if len(auth) > 1 {
			cfg.Setting.DATABASE_DATA[0].Password = auth[1]
		}
	}
	secure := false
	if os.Getenv("CLICKHOUSE_PROTO") == "https" || os.Getenv("CLICKHOUSE_PROTO") == "tls" {
		secure = true
	}
	cfg.Setting.DATABASE_DATA[0].Secure = secure
	insecureSkipVerify, err := boolEnv("SELF_SIGNED_CERT")
	if err != nil {
		return fmt.Errorf("invalid self_signed_cert value: %w", err)
	}
	cfg.Setting.DATABASE_DATA[0].InsecureSkipVerify = insecureSkipVerify
	return nil
}

func portEnv(cfg *clconfig.ClokiConfig) error {
	err := portCHEnv(cfg)
	if err != nil {
		return err
	}
	if os.Getenv("CHARTQL_LOGIN") != "" {
		cfg.Setting.AUTH_SETTINGS.BASIC.Username = os.Getenv("CHARTQL_LOGIN")
	}
	if os.Getenv("CHARTQL_PASSWORD") != "" {
		cfg.Setting.AUTH_SETTINGS.BASIC.Password = os.Getenv("CHARTQL_PASSWORD")
	}
	if os.Getenv("CORS_ALLOW_ORIGIN") != "" {
		cfg.Setting.HTTP_SETTINGS.Cors.Enable = true
		cfg.Setting.HTTP_SETTINGS.Cors.Origin = os.Getenv("CORS_ALLOW_ORIGIN")
	}
	if os.Getenv("PORT") != "" {
		port, err := strconv.Atoi(os.Getenv("PORT"))
		if err != nil {
			return fmt.Errorf("invalid port number: %w", err)
		}
		cfg.Setting.HTTP_SETTINGS.Port = port
	}
	if cfg.Setting.HTTP_SETTINGS.Port == 0 {
		cfg.Setting.HTTP_SETTINGS.Port = 3100
	}
	if os.Getenv("HOST") != "" {
		cfg.Setting.HTTP_SETTINGS.Host = os.Getenv("HOST")
	}
	if cfg.Setting.HTTP_SETTINGS.Host == "" {
		cfg.Setting.HTTP_SETTINGS.Host = "0.0.0.0"
	}
	if os.Getenv("LOG_LEVEL") != "" {
		cfg.Setting.LOG_SETTINGS.Level = os.Getenv("LOG_LEVEL")
	}
	if cfg.Setting.LOG_SETTINGS.Path == "" {
		cfg.Setting.LOG_SETTINGS.Stdout = true
	}
	return nil
}

func sourcesEnv() {
	readerconfig.SourcesPath = *appFlags.SourcesPath
	if os.Getenv("CHARTQL_SOURCES") != "" {
		readerconfig.SourcesPath = os.Getenv("CHARTQL_SOURCES")
	}
	if os.Getenv("CHARTQL_CACHE_SIZE") != "" {
		readerconfig.RenderCacheSize = os.Getenv("CHARTQL_CACHE_SIZE")
	}
}

func main() {
	initFlags()
	if *appFlags.ShowHelpMessage {
		flag.Usage()
		return
	}
	if *appFlags.ShowVersion {
		fmt.Println(reader.Version)
		return
	}
	var configPaths []string
	if _, err := os.Stat(*appFlags.ConfigPath); err == nil {
		configPaths = append(configPaths, *appFlags.ConfigPath)
	}
	cfg := clconfig.New(clconfig.CLOKI_READER, configPaths, "", "")

	cfg.ReadConfig()

	err := portEnv(cfg)
	if err != nil {
		panic(err)
	}
	sourcesEnv()

	app := mux.NewRouter()
	if cfg.Setting.AUTH_SETTINGS.BASIC.Username != "" &&
		cfg.Setting.AUTH_SETTINGS.BASIC.Password != "" {
		app.Use(middleware.BasicAuthMiddleware(cfg.Setting.AUTH_SETTINGS.BASIC.Username,
			cfg.Setting.AUTH_SETTINGS.BASIC.Password, "/ready"))
	}
	app.Use(middleware.AcceptEncodingMiddleware("/metrics"))
	if cfg.Setting.HTTP_SETTINGS.Cors.Enable {
		app.Use(middleware.CorsMiddleware(cfg.Setting.HTTP_SETTINGS.Cors.Origin))
	}
	app.Use(middleware.LoggingMiddleware("[{{.status}}] {{.method}} {{.url}} - LAT:{{.latency}}"))
	reader.Init(cfg, app)

	httpURL := fmt.Sprintf("%s:%d", cfg.Setting.HTTP_SETTINGS.Host, cfg.Setting.HTTP_SETTINGS.Port)
	httpStart(app, httpURL)
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
