// Command weecore is the terminal-independent core process from spec
// §1/§6: it loads configuration, wires every subsystem through
// internal/runtime, and runs until told to stop.
//
// Grounded on irc/ircd/main.go's flag-parse -> load-config ->
// start-server -> wait-for-signal -> graceful-stop shape, extended with
// the -h/-l/-v surface and auto-created home directory spec §6 adds on
// top of that.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/weecore/weecore/internal/config"
	"github.com/weecore/weecore/internal/console"
	"github.com/weecore/weecore/internal/envtree"
	"github.com/weecore/weecore/internal/errs"
	"github.com/weecore/weecore/internal/runtime"
)

const version = "0.1.0"

const license = `weecore is distributed under the same terms as the program it reimplements:
see the project's LICENSE file for the full text. No warranty is provided.`

// knownFlags lists every flag weecore itself recognizes, in both short
// and long form; anything else on the command line is a warning, not a
// fatal error (spec §6 "ignores unknown flags with a warning").
var knownFlags = map[string]bool{
	"h": true, "help": true,
	"l": true, "license": true,
	"v": true, "version": true,
	"config": true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	filtered := warnOnUnknownFlags(args, stderr)

	fs := flag.NewFlagSet("weecore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		showHelp    bool
		showLicense bool
		showVersion bool
		configPath  string
	)
	fs.BoolVar(&showHelp, "h", false, "show usage")
	fs.BoolVar(&showHelp, "help", false, "show usage")
	fs.BoolVar(&showLicense, "l", false, "show license")
	fs.BoolVar(&showLicense, "license", false, "show license")
	fs.BoolVar(&showVersion, "v", false, "show version")
	fs.BoolVar(&showVersion, "version", false, "show version")
	fs.StringVar(&configPath, "config", "", "path to configuration file (yaml/toml/json)")

	if err := fs.Parse(filtered); err != nil {
		return 1
	}

	switch {
	case showHelp:
		fs.Usage()
		return 0
	case showLicense:
		fmt.Fprintln(stdout, license)
		return 0
	case showVersion:
		fmt.Fprintln(stdout, "weecore", version)
		return 0
	}

	settings, err := loadSettings(configPath)
	if err != nil {
		log.Printf("weecore: %v", err)
		return 1
	}

	if err := os.MkdirAll(settings.Home, 0755); err != nil {
		log.Printf("weecore: creating home directory %s: %v", settings.Home, err)
		return 1
	}

	rt := runtime.New(settings, nil)
	if settings.Console.Enabled {
		cfg := console.Config{Address: settings.Console.Address}
		if err := rt.StartConsole(cfg); err != nil {
			log.Printf("weecore: admin console: %v", err)
			return 1
		}
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		if err := rt.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			log.Printf("weecore: event loop stopped: %v", err)
		}
	}()

	aliasesPath := filepath.Join(settings.Home, "aliases.conf")
	if err := loadAliases(rt, aliasesPath); err != nil {
		log.Printf("weecore: loading %s: %v", aliasesPath, err)
	}

	serversPath := filepath.Join(settings.Home, "servers.conf")
	if names, err := loadServers(rt, serversPath); err != nil {
		log.Printf("weecore: loading %s: %v", serversPath, err)
	} else {
		for _, name := range names {
			if srv, ok := rt.Server(name); ok && srv.Cfg.Autoconnect {
				if err := rt.ConnectServer(name); err != nil {
					log.Printf("weecore: connecting %s: %v", name, err)
				}
			}
		}
	}

	log.Printf("weecore started, home=%s", settings.Home)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("weecore shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.StopConsole(ctx); err != nil {
		log.Printf("weecore: admin console shutdown: %v", err)
	}
	return 0
}

// loadServers reads the server-definitions file at path, if present, and
// registers every server it names on rt. A missing file is not an error:
// a fresh install starts with no configured servers.
func loadServers(rt *runtime.Runtime, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	added, warnings, err := rt.LoadServerDefs(f)
	for _, w := range warnings {
		log.Printf("weecore: %s: %s", path, w)
	}
	return added, err
}

// loadAliases reads the alias-definitions file at path, if present, into
// rt.Aliases. A missing file is not an error: a fresh install starts with
// no aliases beyond whatever a script registers at runtime.
func loadAliases(rt *runtime.Runtime, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	warnings, err := rt.LoadAliases(f)
	for _, w := range warnings {
		log.Printf("weecore: %s: %s", path, w)
	}
	return err
}

const shutdownGrace = 5 * time.Second

// loadSettings loads configPath if given, otherwise falls back to
// config.Defaults() — weecore can run with no file at all (spec §6:
// home directory has a default independent of any config file).
func loadSettings(configPath string) (*config.Settings, error) {
	if envDir, err := os.UserHomeDir(); err == nil {
		_ = envtree.Load(envDir)
	} else {
		_ = envtree.Load(".")
	}

	if configPath == "" {
		return config.Defaults(), nil
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errs.New(errs.ConfigParse, "loadSettings", err)
	}
	settings, err := config.Load(abs)
	if err != nil {
		return nil, errs.New(errs.ConfigParse, "loadSettings", err)
	}
	return settings, nil
}

// warnOnUnknownFlags strips any "-x"/"--x" token not in knownFlags,
// printing a warning for each but never aborting (spec §6).
func warnOnUnknownFlags(args []string, stderr *os.File) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		name, isFlag := flagName(a)
		if isFlag && !knownFlags[name] {
			fmt.Fprintf(stderr, "weecore: warning: unknown flag %q ignored\n", a)
			continue
		}
		out = append(out, a)
	}
	return out
}

func flagName(arg string) (name string, isFlag bool) {
	switch {
	case len(arg) > 2 && arg[:2] == "--":
		return arg[2:], true
	case len(arg) > 1 && arg[0] == '-':
		return arg[1:], true
	default:
		return "", false
	}
}
