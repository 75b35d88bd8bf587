package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dmxd/internal/clientmqtt"
	"dmxd/internal/config"
	"dmxd/internal/control"
	"dmxd/internal/engine"
	"dmxd/internal/enttec"
	"dmxd/internal/link"
	"dmxd/internal/liveness"
	"dmxd/internal/liveview"
	"dmxd/internal/logger"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/dmxd.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	devCfg, err := ConvertConfigDevice(cfg.Device)
	if err != nil {
		log.With(logger.Fields{"module": "dmx"}).Errorf("invalid device configuration: %v", err)
		os.Exit(1)
	}

	monitor := liveness.NewMonitor(liveness.Device, liveness.Program)
	dev := link.New(link.EnttecDialer(devCfg, log), ConvertConfigLink(cfg.Device), log)
	dev.SetHeartbeat(monitor.Beater(liveness.Device))

	schedule := engine.NewSchedule(cfg.Program.DefaultInterval.Duration)
	eng := engine.New(dev, schedule, log)
	scheduler := engine.NewScheduler(eng, ConvertConfigProgram(cfg.Program), log)
	scheduler.SetHeartbeat(monitor.Beater(liveness.Program))

	parser := control.NewParser(eng, log)
	if err := parser.LoadFile(cfg.Control.HandlersFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.With(logger.Fields{"module": "control"}).Errorf("failed to load handlers: %v", err)
			os.Exit(1)
		}
		log.With(logger.Fields{"module": "control"}).Warnf("no handler file, starting with an empty table: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.With(logger.Fields{"module": name}).Errorf("stopped: %v", err)
				cancel()
			}
		}()
	}

	run("link", func() error { return dev.Run(ctx, eng) })
	run("program", func() error { return scheduler.Run(ctx) })

	if cfg.Control.Listen != "" {
		server := control.NewServer(parser, log)
		monitor.Beat(liveness.Control)
		server.SetHeartbeat(monitor.Beater(liveness.Control))
		run("control", func() error { return server.ListenAndServe(ctx, cfg.Control.Listen) })
	}

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), parser.Handle)
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")
		if err = client.Start(ctx); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			cancel()
		} else {
			eng.AddObserver(client)
		}
	}

	if cfg.HTTP.Listen != "" {
		hub := liveview.NewHub(log)
		eng.AddObserver(hub)
		view := &liveview.Server{
			Engine:  eng,
			Hub:     hub,
			Monitor: monitor,
			Link:    dev,
			MaxAge:  cfg.Watchdog.MaxAge.Duration,
		}
		srv := &http.Server{Addr: cfg.HTTP.Listen, Handler: view.Router(), ReadHeaderTimeout: 5 * time.Second}
		run("liveview", func() error {
			go hub.Run(ctx)
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()
			log.With(logger.Fields{"module": "liveview"}).Infof("listening on %s", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		liveness.Watch(ctx, monitor, cfg.Watchdog.Interval.Duration, cfg.Watchdog.MaxAge.Duration, log)
	}()

	<-ctx.Done()
	wg.Wait()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}

	log.Info("shutdown complete")
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Qos:         cfg.Qos,
		TopicPrefix: cfg.TopicPrefix,
	}
}

// ConvertConfigDevice преобразует структуры.
func ConvertConfigDevice(cfg config.DeviceConf) (enttec.Config, error) {
	key, err := enttec.ParseAPIKey(cfg.APIKey)
	if err != nil {
		return enttec.Config{}, err
	}
	return enttec.Config{
		Port:            cfg.Port,
		VendorID:        cfg.VendorID,
		ProductID:       cfg.ProductID,
		Description:     cfg.Description,
		BaudRate:        cfg.BaudRate,
		ReadTimeout:     cfg.ReadTimeout.Duration,
		APIKey:          key,
		ReceiveOnChange: cfg.ReceiveOnChange,
		Labels: enttec.Labels{
			ReceivedDMX:       enttec.Label(cfg.Labels.ReceivedDMX),
			SendDMX:           enttec.Label(cfg.Labels.SendDMX),
			ReceiveOnChange:   enttec.Label(cfg.Labels.ReceiveOnChange),
			SetAPIKey:         enttec.Label(cfg.Labels.SetAPIKey),
			SetPortAssignment: enttec.Label(cfg.Labels.SetPortAssignment),
		},
	}, nil
}

// ConvertConfigLink преобразует структуры.
func ConvertConfigLink(cfg config.DeviceConf) link.Config {
	return link.Config{
		ReconnectInterval: cfg.ReconnectInterval.Duration,
		MaxAttempts:       cfg.MaxReconnectAttempts,
	}
}

// ConvertConfigProgram picks the step table or, without one, the colour chase.
func ConvertConfigProgram(cfg config.ProgramConf) engine.Program {
	if len(cfg.Steps) == 0 {
		return engine.ColorChase{Base: cfg.Base}
	}
	return engine.NewTable(cfg.Base, cfg.Steps)
}
