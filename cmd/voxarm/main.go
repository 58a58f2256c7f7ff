package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/machine"
)

func main() {
	log.SetFlags(log.Lshortfile)

	cfgFile := flag.String("config", "", "Path to a TOML config file.")
	addr := flag.String("addr", "", "Address to bind the server to (overrides config, default :5000).")
	controller := flag.String("controller", "", "Base URL of the arm controller (overrides config).")
	port := flag.String("serial", "", "Serial port of a directly attached controller. Takes precedence over the URL.")
	baud := flag.Int("baud", 0, "Serial baud rate (overrides config).")
	flag.Parse()

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *controller != "" {
		cfg.Controller.URL = *controller
	}
	if *port != "" {
		cfg.Controller.SerialPort = *port
	}
	if *baud != 0 {
		cfg.Controller.Baud = *baud
	}
	err = cfg.Arm.validate()
	if err != nil {
		log.Fatalf("%+v", err)
	}

	state, err := cfg.Arm.newState()
	if err != nil {
		log.Fatalf("%+v", err)
	}
	home, err := cfg.Arm.home(state)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	var t actuator.Transport
	if cfg.Controller.SerialPort != "" {
		st, err := actuator.OpenSerial(cfg.Controller.SerialPort, cfg.Controller.Baud, cfg.Controller.CommandTimeout.Duration)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer st.Close()
		t = st
		log.Println("Using controller on", cfg.Controller.SerialPort)
	} else {
		t = actuator.NewHTTPTransport(cfg.Controller.URL)
		log.Println("Using controller at", cfg.Controller.URL)
	}

	gw := actuator.NewGateway(t, state)
	gw.CommandTimeout = cfg.Controller.CommandTimeout.Duration
	gw.TelemetryTimeout = cfg.Controller.TelemetryTimeout.Duration

	m := machine.NewMachine(state, gw, machine.Config{
		Solver:      cfg.Arm.solver(state),
		Home:        home,
		SettleDelay: cfg.Arm.SettleDelay.Duration,
		CycleDelay:  cfg.Arm.CycleDelay.Duration,
	})

	api := newAPI(m, gw, state)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: withCORS(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			api.ServeHTTP(w, req)
		})),
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down")
		m.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Println("Listening on", cfg.Addr)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
