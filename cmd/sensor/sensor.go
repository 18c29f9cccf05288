package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/api"
	"github.com/banshee-data/occupancy.sensor/internal/channel"
	"github.com/banshee-data/occupancy.sensor/internal/config"
	"github.com/banshee-data/occupancy.sensor/internal/db"
	"github.com/banshee-data/occupancy.sensor/internal/device"
	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/occupancy"
	"github.com/banshee-data/occupancy.sensor/internal/radar"
	"github.com/banshee-data/occupancy.sensor/internal/report"
	"github.com/banshee-data/occupancy.sensor/internal/sensor"
	"github.com/banshee-data/occupancy.sensor/internal/serialmux"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
	"github.com/banshee-data/occupancy.sensor/internal/transport"
	"github.com/banshee-data/occupancy.sensor/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a JSON or YAML sensor config")
	devMode       = flag.Bool("dev", false, "Run against a synthetic radar instead of the serial port")
	disableRadar  = flag.Bool("disable-radar", false, "Run without any radar attached")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	port          = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	channelListen = flag.String("channel-listen", "", "TCP address for the command channel (overrides config)")
	rfcomm        = flag.Int("rfcomm", 0, "Bluetooth RFCOMM channel for the command channel (overrides config)")
	dbPath        = flag.String("db", "", "SQLite database path (overrides config)")
	legacyRadar   = flag.Bool("legacy-radar", false, "Use the MicRadar frame format")
	versionFlag   = flag.Bool("version", false, "Print the version and exit")
)

// devFrameInterval is how often the synthetic radar emits a frame.
const devFrameInterval = 100 * time.Millisecond

// overrides holds command line values that win over the config file. Zero
// values leave the config untouched.
type overrides struct {
	port          string
	channelListen string
	rfcomm        int
	dbPath        string
	legacy        bool
}

func (o overrides) apply(cfg *config.SensorConfig) {
	if o.port != "" {
		cfg.SerialPort = &o.port
	}
	if o.channelListen != "" {
		cfg.ChannelListen = &o.channelListen
	}
	if o.rfcomm != 0 {
		cfg.RFCOMMChannel = &o.rfcomm
	}
	if o.dbPath != "" {
		cfg.DBPath = &o.dbPath
	}
	if o.legacy {
		model := config.RadarMicRadar
		cfg.RadarModel = &model
	}
}

func loadConfig(path string, o overrides) (*config.SensorConfig, error) {
	cfg := &config.SensorConfig{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDecoder(cfg *config.SensorConfig) radar.Decoder {
	if cfg.IsLegacyRadar() {
		return radar.NewMicRadarDecoder()
	}
	return radar.NewMinewDecoder(0)
}

func openSerial(cfg *config.SensorConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case *disableRadar:
		return serialmux.NewDisabledSerialMux(), nil
	case *devMode:
		gen := serialmux.MinewFrames(time.Now().UnixNano())
		if cfg.IsLegacyRadar() {
			gen = serialmux.MicRadarFrames(time.Now().UnixNano())
		}
		return serialmux.NewSyntheticSerialMux(devFrameInterval, gen), nil
	default:
		return serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetBaudRate()})
	}
}

func openSinks(cfg *config.SensorConfig, database *db.DB, sensorID string) (report.Fanout, func()) {
	sinks := report.Fanout{report.LogSink{}, database}
	closer := func() {}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		mq, err := report.DialMQTT(broker, cfg.GetMQTTTopic(), sensorID)
		if err != nil {
			log.Printf("MQTT disabled: %v", err)
		} else {
			log.Printf("Publishing reports to %s", mq.TopicFor(sensorID))
			sinks = append(sinks, mq)
			closer = func() { mq.Close() }
		}
	}
	return sinks, closer
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	o := overrides{
		port:          *port,
		channelListen: *channelListen,
		rfcomm:        *rfcomm,
		dbPath:        *dbPath,
		legacy:        *legacyRadar,
	}

	cfg, err := loadConfig(*configFile, o)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	sensorID := cfg.GetSensorID()
	clock := timeutil.RealClock{}
	log.Printf("occupancy sensor %s starting: sensor=%s radar=%s", version.String(), sensorID, cfg.GetRadarModel())

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	radarPort, err := openSerial(cfg)
	if err != nil {
		log.Fatalf("failed to create radar port: %v", err)
	}
	defer radarPort.Close()

	history := occupancy.NewHistory(cfg.GetHistoryCapacity(), cfg.GetCountValidity(), clock)
	link := radar.NewLink(newDecoder(cfg), radar.DefaultEventBuffer)
	supervisor := radar.NewSupervisor(radarPort, history, clock, radar.SupervisorConfig{
		ResetCooldown: cfg.GetResetCooldown(),
		ResetSettle:   cfg.GetResetSettle(),
		TickInterval:  cfg.GetTickInterval(),
		AutoReset:     !cfg.IsLegacyRadar(),
	})

	resetter := device.NewResetter(clock, device.DefaultSettle)

	chOpts := channel.Options{
		Device:    resetter,
		RadarName: link.Name(),
		Version:   version.String(),
	}
	if !cfg.IsLegacyRadar() {
		chOpts.Radar = supervisor
	}
	ch := channel.New(chOpts)
	monitoring.SetMirror(ch.Mirror)

	sinks, closeSinks := openSinks(cfg, database, sensorID)
	defer closeSinks()

	var motion sensor.MotionSource
	var pir *sensor.PIR
	if path := cfg.GetPIRGPIOPath(); path != "" {
		pir = sensor.NewPIR(clock, cfg.GetMotionTimeout())
		motion = pir
	}
	controller := sensor.NewController(sensor.ControllerConfig{
		SensorID:       sensorID,
		ReportInterval: cfg.GetReportInterval(),
	}, history, motion, sinks, clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var restart bool

	// serial reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := radarPort.Monitor(ctx, link.Feed); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("serial monitor routine terminated")
	}()

	// radar supervisor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervisor.Start(); err != nil {
			log.Printf("failed to start radar: %v", err)
		}
		if err := supervisor.Run(ctx, link.Events()); err != nil && err != context.Canceled {
			log.Printf("radar supervisor stopped: %v", err)
		}
		log.Print("radar supervisor routine terminated")
	}()

	// occupancy reports
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := controller.Run(ctx, time.Second); err != nil && err != context.Canceled {
			log.Printf("report controller stopped: %v", err)
		}
		log.Print("report routine terminated")
	}()

	if pir != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pir.PollGPIO(ctx, cfg.GetPIRGPIOPath(), cfg.GetPIRPollInterval()); err != nil && err != context.Canceled {
				log.Printf("PIR polling stopped: %v", err)
			}
		}()
	}

	// device reset
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(cfg.GetTickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				resetter.Tick()
			case <-resetter.Done():
				restart = true
				stop()
				return
			}
		}
	}()

	// command channel
	if addr := cfg.GetChannelListen(); addr != "" {
		a, err := transport.ListenTCP(addr)
		if err != nil {
			log.Fatalf("failed to listen for command channel: %v", err)
		}
		serveChannel(ctx, &wg, a, ch)
	}
	if n := cfg.GetRFCOMMChannel(); n > 0 {
		a, err := transport.ListenRFCOMM(uint8(n))
		if err != nil {
			log.Printf("RFCOMM command channel disabled: %v", err)
		} else {
			serveChannel(ctx, &wg, a, ch)
		}
	}

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(api.Options{
			SensorID:   sensorID,
			RadarModel: cfg.GetRadarModel(),
			Radar:      supervisor,
			Link:       link,
			Channel:    ch,
			Reports:    database,
			Latest:     controller,
			Clock:      clock,
		})
		mux := apiServer.ServeMux()
		mux.Handle("/ws", transport.WebSocketHandler(ch))
		radarPort.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("Listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	monitoring.SetMirror(nil)
	log.Printf("Graceful shutdown complete")

	if restart {
		// A non-zero exit hands the restart to the service manager.
		closeSinks()
		radarPort.Close()
		database.Close()
		os.Exit(1)
	}
}

func serveChannel(ctx context.Context, wg *sync.WaitGroup, a transport.Acceptor, ch *channel.Channel) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Command channel listening on %s", a.Addr())
		if err := transport.Serve(ctx, a, ch); err != nil {
			log.Printf("command channel on %s stopped: %v", a.Addr(), err)
		}
	}()
}
