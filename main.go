package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/granasat/gopwmbox/docfile"
	"github.com/granasat/gopwmbox/pwmbox"
	"github.com/granasat/gopwmbox/pwmbox/simulator"
	"github.com/granasat/gopwmbox/web"
	"github.com/rkjdid/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var rootConfig *web.Config

var (
	device   = flag.String("dev", "", "path to serial port, if empty it will be searched automatically")
	rootPath = flag.String("root", "", "path to pwmbox's main directory (defaults to executable path)")
	cfgPath  = flag.String("config", "", "path to config (defaults to <root>/config.toml)")
	simulate = flag.Bool("sim", false, "talk to a simulated box instead of a serial port")
	verbose  = flag.Bool("v", false, "higher verbosity")
	version  = flag.Bool("version", false, "print version & exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: %s [flags] <command>

commands:
  info                  print device info & presets (default)
  dump <file>           read presets from device, save them to file (.json, .yaml)
  load <file>           load presets from file, write them to device
  password <a> <b> <c>  set device password
  default <slot>        set default slot, counted from 0
  serve                 start http api

flags:
`, filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

// setup parses flags, configures logging and loads or creates the config file.
func setup() {
	flag.Usage = usage
	flag.Parse()

	// print version & exit
	if *version {
		fmt.Printf("pwmbox %s\n", Version)
		os.Exit(0)
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if *rootPath == "" {
		exe, err := os.Executable()
		if err != nil {
			log.Fatal().Err(err).Msg("couldn't get path to executable")
		}
		*rootPath = filepath.Dir(exe)
	}
	err := os.MkdirAll(*rootPath, 0755)
	if err != nil {
		log.Fatal().Err(err).Msgf("couldn't mkdir \"%s\"", *rootPath)
	}

	if *cfgPath == "" {
		*cfgPath = filepath.Join(*rootPath, "config.toml")
	}

	err = util.ReadTomlFile(&rootConfig, *cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatal().Err(err).Msgf("error reading config \"%s\"", *cfgPath)
		}
		cfg := web.DefaultConfig
		rootConfig = &cfg
		err = util.WriteTomlFile(rootConfig, *cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msgf("error creating config \"%s\"", *cfgPath)
		}
		log.Info().Msgf("created new config file \"%s\"", *cfgPath)
	}

	if *verbose {
		rootConfig.Web.Verbose = true
		rootConfig.Log.Level = "debug"
	}
	if !rootConfig.Log.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(rootConfig.Log.Level)
	if err != nil || rootConfig.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().Msgf("using config file: %s", *cfgPath)
}

func main() {
	setup()
	cmd, args := "info", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	hub := web.NewHub()
	opts := []pwmbox.Option{
		pwmbox.WithLogger(log.Logger.With().Str("component", "pwmbox").Logger()),
		pwmbox.WithProgress(func(m pwmbox.SyncMessage) {
			hub.Publish(m)
			if m.Final || m.Done%4 == 0 {
				log.Debug().Str("type", m.Type).Int("done", m.Done).Int("total", m.Total).Msg(m.Status)
			}
		}),
	}
	opts = append(opts, portOptions(*simulate, *device, rootConfig.Device)...)

	box, err := pwmbox.NewPWMBox(&rootConfig.PWMBox, opts...)
	defer box.Close()
	if err != nil {
		log.Error().Err(err).Msg("error initializing pwmbox session")
	}
	if box.State() != pwmbox.Bound && cmd != "serve" {
		log.Error().Msg(pwmbox.ErrNoDevice.Error())
		os.Exit(1)
	}

	switch cmd {
	case "info":
		err = printInfo(box)
	case "dump":
		err = needArgs(args, 1)
		if err == nil {
			err = docfile.Save(args[0], box.Presets())
		}
		if err == nil {
			log.Info().Int("slots", len(box.Presets())).Msgf("saved presets to \"%s\"", args[0])
		}
	case "load":
		err = needArgs(args, 1)
		if err == nil {
			err = load(box, args[0])
		}
	case "password":
		err = needArgs(args, 3)
		if err == nil {
			var p pwmbox.Password
			p, err = parsePassword(args)
			if err == nil {
				err = box.SetPassword(p)
			}
		}
	case "default":
		err = needArgs(args, 1)
		if err == nil {
			var idx int
			idx, err = strconv.Atoi(args[0])
			if err == nil {
				err = box.SetDefault(idx)
			}
		}
	case "serve":
		err = serve(box, hub)
	default:
		usage()
		err = fmt.Errorf("unknown command \"%s\"", cmd)
	}
	if err != nil {
		log.Error().Err(err).Msg(cmd)
		box.Close()
		os.Exit(1)
	}
}

// portOptions selects the serial port: the simulated box, else the -dev
// flag, else the configured device, else discovery.
func portOptions(simulate bool, flagDevice, cfgDevice string) []pwmbox.Option {
	switch {
	case simulate:
		if flagDevice != "" || cfgDevice != "" {
			log.Warn().Msg("simulated box, ignoring configured serial device")
		}
		return simulatedPort(simulator.New())
	case flagDevice != "":
		return []pwmbox.Option{pwmbox.WithDevice(flagDevice)}
	case cfgDevice != "":
		return []pwmbox.Option{pwmbox.WithDevice(cfgDevice)}
	}
	return nil
}

// simulatedPort wires a single simulated box as the only serial port.
func simulatedPort(dev *simulator.Device) []pwmbox.Option {
	const name = "sim0"
	return []pwmbox.Option{
		pwmbox.WithPortLister(func() ([]pwmbox.PortInfo, error) {
			return []pwmbox.PortInfo{{Name: name, Description: "simulated USB Serial"}}, nil
		}),
		pwmbox.WithPortOpener(func(port string, _ *serial.Mode) (pwmbox.Port, error) {
			if port != name {
				return nil, fmt.Errorf("no such port %s", port)
			}
			return dev.Open(), nil
		}),
	}
}

func needArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func parsePassword(args []string) (p pwmbox.Password, err error) {
	for i, v := range args {
		p[i], err = strconv.Atoi(v)
		if err != nil || p[i] < 0 || p[i] > 9 {
			return p, fmt.Errorf("password digit %d: expected 0-9, got \"%s\"", i+1, v)
		}
	}
	return p, nil
}

func printInfo(box *pwmbox.PWMBox) error {
	info := box.Info()
	fmt.Printf("port:     %s (%s)\n", box.Port(), box.Description())
	fmt.Printf("serial:   %d\n", info.SerialNumber)
	fmt.Printf("versions: hw %.1f, sw %.1f\n", info.HardwareVersion, info.SoftwareVersion)
	if info.HasDefault() {
		fmt.Printf("default:  slot %d\n", info.DefaultPreset)
	} else {
		fmt.Println("default:  none")
	}
	if p := box.Password(); p.IsSet() {
		fmt.Printf("password: %d%d%d\n", p[0], p[1], p[2])
	} else {
		fmt.Println("password: none")
	}
	presets := box.Presets()
	fmt.Printf("slots:    %d/%d\n", len(presets), info.MaxPresets)
	for i, p := range presets {
		fmt.Printf("%2d %s", i, p)
	}
	for _, w := range box.Warnings() {
		fmt.Printf("warning:  %s\n", w)
	}
	return nil
}

func load(box *pwmbox.PWMBox, path string) error {
	presets, err := docfile.Load(path)
	if err != nil {
		return err
	}
	box.SetPresets(presets)
	log.Info().Int("slots", len(presets)).Msgf("writing presets from \"%s\"", path)
	return box.WriteAllPresets()
}

func serve(box *pwmbox.PWMBox, hub *web.Hub) error {
	srv := web.NewServer(Version, box, hub, rootConfig, *cfgPath)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().Msgf("serving http api on http://%s, press <Ctrl-C> to quit", rootConfig.Web.ListenAddr)

	trap := make(chan os.Signal, 1)
	signal.Notify(trap, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-trap:
	}
	fmt.Println()
	log.Info().Msg("quit received...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("no clean exit after 10sec: %w", err)
	}
	return nil
}
