// Mice Piper - maps extra mouse buttons and button chords to actions.
// Runs as a background service reading Linux evdev devices and injecting
// key sequences through a uinput virtual keyboard.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"micepiper/internal/api"
	"micepiper/internal/chord"
	"micepiper/internal/config"
	"micepiper/internal/device"
	"micepiper/internal/service"
	"micepiper/internal/tray"
)

var (
	version  = "0.1.0"
	cfgPath  = flag.String("config", "", "Path to config file (default: auto)")
	listDevs = flag.Bool("list", false, "List candidate mouse devices and exit")
	watch    = flag.Bool("watch", false, "Print the live button/chord feed from a running service")
	showVer  = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("micepiper version %s\n", version)
		return
	}

	if *listDevs {
		listDevices()
		return
	}

	cfgMgr, err := config.NewManager(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Warning: failed to load config: %v", err)
	}

	if *watch {
		runWatch(cfgMgr)
		return
	}

	runService(cfgMgr)
}

func listDevices() {
	candidates, err := device.Discover()
	if err != nil {
		log.Fatalf("Device discovery failed: %v", err)
	}
	if len(candidates) == 0 {
		fmt.Println("No mice with extra buttons found.")
		return
	}

	fmt.Println("Candidate devices:")
	fmt.Println("------------------")
	for _, c := range candidates {
		fmt.Printf("%s\n", c.Path)
		fmt.Printf("  Name: %s\n", c.Name)
		fmt.Printf("  Buttons: %v\n", c.Buttons)
		fmt.Println()
	}
}

func runService(cfgMgr *config.Manager) {
	log.Println("Mice Piper service starting...")

	svc := service.New(cfgMgr)

	cfg := cfgMgr.Get()
	var apiServer *api.Server
	if cfg.General.APIEnabled {
		apiServer = api.NewServer(cfgMgr, svc)

		svc.OnButton = func(ev device.Event) {
			apiServer.BroadcastButton(ev.Device, device.NameOf(ev.Code), ev.Code, ev.Pressed, ev.Time.UnixMicro())
		}
		svc.OnChord = func(c chord.Chord, mapped bool) {
			names := make([]string, len(c.Buttons))
			for i, b := range c.Buttons {
				names[i] = device.NameOf(b)
			}
			apiServer.BroadcastChord(c.Device, names, c.Buttons, c.Repeat, mapped, c.At.UnixMicro())
		}

	}

	if err := svc.Start(); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	if apiServer != nil {
		go func() {
			if err := apiServer.Start(cfg.General.APIAddr); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case unix.SIGHUP:
				log.Println("SIGHUP received, reloading configuration")
				if err := cfgMgr.Load(); err != nil {
					log.Printf("Reload: failed to re-read config: %v", err)
					continue
				}
				if err := svc.Reload(); err != nil {
					log.Printf("Reload: %v", err)
				}
			default:
				log.Println("Shutting down...")
				svc.Stop()
				return
			}
		}
	}()

	if cfg.General.TrayEnabled {
		t := tray.New(tray.Callbacks{
			OnPause: func() bool {
				paused := !svc.Paused()
				svc.Pause(paused)
				return paused
			},
			OnReload: func() {
				if err := cfgMgr.Load(); err != nil {
					log.Printf("Reload: failed to re-read config: %v", err)
					return
				}
				if err := svc.Reload(); err != nil {
					log.Printf("Reload: %v", err)
				}
			},
			OnQuit: func() {
				svc.Stop()
			},
		})
		go func() {
			<-svc.Done()
			t.Stop()
		}()
		log.Println("Mice Piper service running. Press Ctrl+C to stop.")
		t.Run()
	} else {
		log.Println("Mice Piper service running. Press Ctrl+C to stop.")
		<-svc.Done()
	}

	svc.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	if err := svc.Err(); err != nil {
		log.Fatalf("Service terminated: %v", err)
	}
}

// runWatch connects to a running service's WebSocket feed and prints every
// event. Used when figuring out which codes a mouse's buttons produce.
func runWatch(cfgMgr *config.Manager) {
	cfg := cfgMgr.Get()
	u := url.URL{Scheme: "ws", Host: cfg.General.APIAddr, Path: "/ws"}

	header := http.Header{}
	if cfg.General.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.General.APIToken)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatalf("Failed to connect to %s (is the service running with api_enabled?): %v", u.String(), err)
	}
	defer conn.Close()

	log.Printf("Watching event feed from %s. Press Ctrl+C to stop.", cfg.General.APIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(message))
	}
}
