package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"github.com/usnistgov/wavedaq"
	"github.com/usnistgov/wavedaq/internal/metrics"
	"github.com/usnistgov/wavedaq/internal/wavedb"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist returns the path dir/filename, creating the directory and an
// empty file when they are missing. A leading "$HOME" in dir is expanded.
func makeFileExist(dir, filename string) (string, error) {
	if rest, ok := strings.CutPrefix(dir, "$HOME"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = home + rest
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	fullname := path.Join(dir, filename)
	f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
	if err != nil {
		return "", err
	}
	return fullname, f.Close()
}

// setupViper registers the wavedaq defaults and reads config.yaml, searching
// /etc/wavedaq first and then dotdir and the working directory. An empty config.yaml is created in dotdir on first run
// so task changes made over RPC have somewhere to be saved.
func setupViper(dotdir string) error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("ports.rpc", 5600)
	viper.SetDefault("export.directory", filepath.Join(dotdir, "waveforms"))
	viper.SetDefault("database.enable", false)

	if _, err := makeFileExist(dotdir, "config.yaml"); err != nil {
		return err
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, dir := range []string{filepath.FromSlash("/etc/wavedaq"), dotdir, "."} {
		viper.AddConfigPath(dir)
	}
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading wavedaq config: %w", err)
	}
	return nil
}

// startLogger returns a logger writing to pfname, rotated at 10 MB with four
// compressed backups kept for up to 180 days.
func startLogger(pfname string) *log.Logger {
	rotator := &lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,
		MaxBackups: 4,
		MaxAge:     180,
		Compress:   true,
	}
	return log.New(rotator, "", log.LstdFlags)
}

func printVersion() {
	fmt.Printf("wavedaq %s\n", wavedaq.Build.Version)
	fmt.Printf("  git commit:  %s (%s)\n", githash, gitdate)
	fmt.Printf("  built:       %s with %s\n", buildDate, runtime.Version())
	fmt.Printf("  host CPUs:   %d\n", runtime.NumCPU())
}

func main() {
	buildDate = strings.ReplaceAll(buildDate, ".", " ") // ldflags carry the date with dots for spaces
	wavedaq.Build.Date = buildDate
	wavedaq.Build.Githash = githash
	wavedaq.Build.Gitdate = gitdate
	wavedaq.Build.Summary = fmt.Sprintf("wavedaq version %s (git commit %s of %s)", wavedaq.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		wavedaq.Build.Host = host
	} else {
		wavedaq.Build.Host = "host not detected"
	}

	showVersion := flag.Bool("version", false, "print version and build information, then exit")
	exportDir := flag.String("export", "", "directory for exported .npy waveforms (overrides export.directory)")
	pingDB := flag.Bool("pingdb", false, "check the task-run database connection, then exit")
	flag.Parse()

	switch {
	case *showVersion:
		printVersion()
		return
	case *pingDB:
		if err := wavedb.PingServer(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("\n%s\n", wavedaq.Build.Summary)

	// Problems (clamps, coercions, hardware errors) and task lifecycle
	// updates go to separate rotated logs under ~/.wavedaq/logs.
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	dotdir := filepath.Join(home, ".wavedaq")
	logdir := filepath.Join(dotdir, "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	wavedaq.ProblemLogger = startLogger(problemname)
	wavedaq.UpdateLogger = startLogger(logname)
	fmt.Printf("Problems log:   %s\n", problemname)
	fmt.Printf("Task updates:   %s\n\n", logname)
	wavedaq.UpdateLogger.Printf("server starting: %s", wavedaq.Build.Summary)

	if err := setupViper(dotdir); err != nil {
		panic(err)
	}
	if *exportDir != "" {
		viper.Set("export.directory", *exportDir)
	}
	wavedaq.SetPortnumbers(viper.GetInt("ports.rpc"))

	go func() {
		if err := metrics.Serve(wavedaq.Ports.Metrics); err != nil {
			wavedaq.ProblemLogger.Printf("metrics endpoint stopped: %v", err)
		}
	}()

	abort := make(chan struct{})
	go wavedaq.RunClientUpdater(wavedaq.Ports.Status, abort)
	fmt.Printf("Serving JSON-RPC on port %d, status on %d, metrics on %d\n",
		wavedaq.Ports.RPC, wavedaq.Ports.Status, wavedaq.Ports.Metrics)
	err = wavedaq.RunRPCServer(wavedaq.Ports.RPC, true)
	close(abort)
	if err != nil {
		log.Fatal(err)
	}
}
