package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"kegbotd/adminshell"
	"kegbotd/bus"
	"kegbotd/chatbot"
	"kegbotd/config"
	"kegbotd/core"
	"kegbotd/drivers/flowctl"
	"kegbotd/drivers/onewire"
	"kegbotd/drivers/thermosensor"
	"kegbotd/platform"
	"kegbotd/store"
	"kegbotd/types"
)

// shutdownGrace is the "final countdown": once the root context is
// cancelled, every worker has this long to unwind before the process force
// exits rather than hang.
const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "./kegbot.ini", "path to the kegbot.ini configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logrus.New()
	if cfg.Logging.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var outputs []io.Writer
	if cfg.Logging.UseLogfile && cfg.Logging.Logfile != "" {
		f, err := os.OpenFile(cfg.Logging.Logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Fatal("failed to open log file")
		}
		outputs = append(outputs, f)
		defer f.Close()
	}
	if cfg.Logging.UseStream || len(outputs) == 0 {
		outputs = append(outputs, os.Stdout)
	}
	if len(outputs) == 1 {
		log.SetOutput(outputs[0])
	} else {
		log.SetOutput(io.MultiWriter(outputs...))
	}

	tables := store.TableNames{
		Drink:  cfg.DB.DrinkTable,
		User:   cfg.DB.UserTable,
		Key:    cfg.DB.KeyTable,
		Policy: cfg.DB.PolicyTable,
		Grant:  cfg.DB.GrantTable,
		Keg:    cfg.DB.KegTable,
		Thermo: cfg.DB.ThermoTable,
	}
	sqlStore, err := store.Open(cfg.DB.Name, tables)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer sqlStore.Close()

	if cfg.Logging.UseSQL {
		hook, err := sqlStore.NewLogHook(cfg.Logging.LogTable)
		if err != nil {
			log.WithError(err).Fatal("failed to start SQL log hook")
		}
		log.AddHook(hook)
	}

	flowCtl, err := flowctl.New(
		flowctl.Config{TickEdge: flowctl.EdgeRising, TickDebounce: 2 * time.Millisecond},
		&platform.HostPin{}, &platform.HostPin{}, &platform.HostPin{},
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize flow controller")
	}
	defer flowCtl.Close()

	sensor := thermosensor.New(platform.HostI2C{}, thermosensor.Config{})
	if err := sensor.Configure(); err != nil {
		log.WithError(err).Fatal("failed to initialize temperature sensor")
	}

	ignoreTokens := make([]types.Token, 0, len(cfg.Users.IgnoreIDs))
	for _, id := range cfg.Users.IgnoreIDs {
		ignoreTokens = append(ignoreTokens, types.Token(id))
	}
	scanner := onewire.New(platform.HostSerialPort{}, onewire.Config{
		IgnoreList: ignoreTokens,
	})

	metrics := core.NewMetrics(prometheus.DefaultRegisterer)

	busInst := bus.NewBus(8)
	supConn := busInst.NewConnection("supervisor")

	supervisorCfg := core.SupervisorConfig{
		IBRefreshTimeout:      cfg.Timing.IBRefreshTimeout,
		IBIdleMinDisconnected: cfg.Timing.IBIdleMinDisconnected,
		IBMissingCeiling:      cfg.Timing.IBMissingCeiling,
		IBIdleTimeout:         cfg.Timing.IBIdleTimeout,
		PollTime:              cfg.Flow.PollTime,
		ShutdownGrace:         shutdownGrace,
	}
	thermoCfg := core.ThermoConfig{
		SamplePeriod:    cfg.Flow.PollTime,
		TempMaxHigh:     cfg.Thermo.TempMaxHigh,
		TempMaxLow:      cfg.Thermo.TempMaxLow,
		FreezerEventMin: cfg.Timing.FreezerEventMin,
	}

	bot := chatbot.NewLogBot(log)

	sup := core.NewSupervisor(
		supervisorCfg, flowCtl, scanner, sensor,
		sqlStore, sqlStore, sqlStore, sqlStore, sqlStore, sqlStore,
		supConn, metrics, thermoCfg, bot, log,
	)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server exited")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		shell := adminshell.New(sup, os.Stdin, os.Stdout, log)
		if err := shell.Run(); err != nil {
			log.WithError(err).Warn("admin shell exited")
		}
		sup.Quit()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("received shutdown signal")
		cancel()
	}()

	log.Info("kegbot daemon starting")
	sup.Run(ctx, cancel, &wg)
	log.Info("kegbot daemon stopped")
}
