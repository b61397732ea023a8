/*
Peer bridges standard input and standard output across an unreliable UDP
path using the RDT protocol core. Two instances form a connection:

	./peer -listen -local 127.0.0.1:8901
	./peer -remote 127.0.0.1:8901 < book.txt

The listener adopts the first endpoint that speaks to it. Either side closing
its input stream starts the four-way teardown; the process exits once the
connection is destroyed. Protocol tunables come from config.yaml when
present, defaults otherwise.
*/
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sablewire/rdt/config"
	"github.com/sablewire/rdt/lib"
)

func main() {
	listen := flag.Bool("listen", false, "Wait for a peer instead of dialing one")
	localAddr := flag.String("local", "", "Local UDP address (host:port)")
	remoteAddr := flag.String("remote", "", "Remote UDP address (host:port), required unless -listen")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration")
	metricsAddr := flag.String("metrics", "", "Expose prometheus metrics on this address (e.g. :9120)")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig(*configPath)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			log.Fatalln("Configuration file error:", err)
		}
		config.AppConfig = config.DefaultConfig()
	}

	core, err := lib.NewCore(lib.NewCoreConfig(config.AppConfig))
	if err != nil {
		log.Fatalln("Error starting RDT core:", err)
	}
	defer core.Close()

	if *metricsAddr != "" {
		if err := lib.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Fatalln("Error registering metrics:", err)
		}
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Println("Metrics listening on", *metricsAddr)
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	var sys *lib.SysConn
	if *listen {
		if *localAddr == "" {
			log.Fatalln("-listen requires -local")
		}
		sys, err = lib.ListenSysConn(*localAddr, os.Stdin, os.Stdout)
		if err != nil {
			log.Fatalln("Error listening:", err)
		}
		log.Println("Listening on", *localAddr)
	} else {
		if *remoteAddr == "" {
			log.Fatalln("either -listen or -remote is required")
		}
		sys, err = lib.DialSysConn(*localAddr, *remoteAddr, os.Stdin, os.Stdout)
		if err != nil {
			log.Fatalln("Error connecting:", err)
		}
		log.Println("Connected to", *remoteAddr)
	}

	conn, err := core.NewConnection("", sys, lib.NewConnectionConfig(config.AppConfig))
	if err != nil {
		log.Fatalln("Error creating connection:", err)
	}

	tick := time.Duration(config.AppConfig.TimerInterval) * time.Millisecond
	sys.Run(core, conn, tick)
	log.Println("Connection finished, exiting.")
}
