// Command autosip automatically runs SIP measurements on a schedule by
// submitting the instrument's own web form.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/urfave/cli"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
	yml "gopkg.in/yaml.v2"

	"github.com/geophys-tools/autosip/autorun"
	"github.com/geophys-tools/autosip/schedule"
	"github.com/geophys-tools/autosip/sip"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "autosip.yml"
	k              = koanf.New(".")
)

// Settings are the slow-moving knobs that live in autosip.yml rather than on
// the command line.
type Settings struct {
	// TimeoutSeconds bounds each HTTP call to the instrument.
	TimeoutSeconds int `yaml:"TimeoutSeconds"`

	// FailureLimit is how many consecutive failed slots abort the campaign.
	FailureLimit int `yaml:"FailureLimit"`

	// StatusAddr, when set, serves GET /status at this address.
	StatusAddr string `yaml:"StatusAddr"`

	// SIPVersion is the instrument firmware version to speak.
	SIPVersion string `yaml:"SIPVersion"`

	// Probe tunes the readiness polling ahead of each submission.
	Probe ProbeSettings `yaml:"Probe"`
}

// ProbeSettings is the readiness probing policy in settings-file units.
type ProbeSettings struct {
	// PaceSeconds is the minimum spacing between readiness requests.
	PaceSeconds int `yaml:"PaceSeconds"`

	// InitialSeconds is the first backoff interval after a busy page.
	InitialSeconds int `yaml:"InitialSeconds"`

	// MaxSeconds caps the backoff interval.
	MaxSeconds int `yaml:"MaxSeconds"`

	// GiveUpSeconds bounds total probing per slot.
	GiveUpSeconds int `yaml:"GiveUpSeconds"`
}

// policy converts to the client's representation; zero fields keep the
// client defaults.
func (p ProbeSettings) policy() sip.ProbePolicy {
	return sip.ProbePolicy{
		Pace:        time.Duration(p.PaceSeconds) * time.Second,
		Initial:     time.Duration(p.InitialSeconds) * time.Second,
		Max:         time.Duration(p.MaxSeconds) * time.Second,
		GiveUpAfter: time.Duration(p.GiveUpSeconds) * time.Second,
	}
}

func setupconfig() {
	probe := sip.DefaultProbePolicy()
	k.Load(structs.Provider(Settings{
		TimeoutSeconds: 30,
		FailureLimit:   autorun.DefaultFailureLimit,
		SIPVersion:     sip.Version131h1,
		Probe: ProbeSettings{
			PaceSeconds:    int(probe.Pace.Seconds()),
			InitialSeconds: int(probe.Initial.Seconds()),
			MaxSeconds:     int(probe.Max.Seconds()),
			GiveUpSeconds:  int(probe.GiveUpAfter.Seconds()),
		},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

var (
	paramFile     string
	channelsFile  string
	basename      string
	intervalStr   string
	intervalHours float64
	instrumentIP  string
	logFile       string
	sipVersion    string
	statusAddr    string
	fullHours     bool
)

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "paramfile",
		Usage:       "run parameter JSON file, merged over the instrument defaults",
		Destination: &paramFile,
	},
	cli.StringFlag{
		Name:        "channels-file",
		Usage:       "JSON file mapping each stimulus channel to its response channels",
		Destination: &channelsFile,
	},
	cli.StringFlag{
		Name:        "basename",
		Usage:       "prefix for run names on the device; date and time are appended",
		Destination: &basename,
	},
	cli.StringFlag{
		Name:        "ip",
		Usage:       "address of the measurement device, host or host:port (check with ipconfig on the device, it changes at reboot)",
		Destination: &instrumentIP,
	},
	cli.StringFlag{
		Name:        "interval",
		Usage:       "spacing between runs in H:MM",
		Destination: &intervalStr,
	},
	cli.Float64Flag{
		Name:        "interval-hours",
		Usage:       "legacy spacing between runs as a decimal number of hours",
		Destination: &intervalHours,
	},
	cli.BoolFlag{
		Name:        "measure-full-hours",
		Usage:       "snap the first run to the next full clock hour",
		Destination: &fullHours,
	},
	cli.StringFlag{
		Name:        "sip-version",
		Usage:       "instrument firmware version (1.0.1 or 1.3.1h-1), overrides the settings file",
		Destination: &sipVersion,
	},
	cli.StringFlag{
		Name:        "logfile",
		Usage:       "log destination; generated from basename and start time when omitted",
		Destination: &logFile,
	},
	cli.StringFlag{
		Name:        "status-addr",
		Usage:       "serve a JSON /status endpoint at this address, overrides the settings file",
		Destination: &statusAddr,
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "autosip"
	app.Usage = "automatically run SIP measurements on a schedule"
	app.Version = Version
	app.Flags = runFlags
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "mkconf",
			Usage:  "write " + ConfigFileName + " populated with the default settings",
			Action: func(*cli.Context) error { setupconfig(); return mkconf() },
		},
		{
			Name:   "conf",
			Usage:  "print the effective settings",
			Action: func(*cli.Context) error { setupconfig(); return printconf() },
		},
		{
			Name:   "version",
			Usage:  "print the version number and exit",
			Action: func(*cli.Context) error { pversion(); return nil },
		},
	}
	return app
}

func pversion() {
	fmt.Printf("autosip version %v\n", Version)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "autosip: %s\n", err)
		os.Exit(1)
	}
}

func mkconf() error {
	c := Settings{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}

func printconf() error {
	c := Settings{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	return yml.NewEncoder(os.Stdout).Encode(c)
}

func run(*cli.Context) error {
	if err := requireFlags(); err != nil {
		return exitFor(err)
	}
	setupconfig()
	settings := Settings{}
	if err := k.Unmarshal("", &settings); err != nil {
		return cli.NewExitError(fmt.Sprintf("error parsing config: %v", err), 2)
	}
	if sipVersion == "" {
		sipVersion = settings.SIPVersion
	}
	if statusAddr == "" {
		statusAddr = settings.StatusAddr
	}

	interval, err := resolveInterval()
	if err != nil {
		return exitFor(err)
	}

	channels, err := sip.LoadChannels(channelsFile)
	if err != nil {
		return exitFor(err)
	}
	params, err := sip.LoadParams(paramFile)
	if err != nil {
		return exitFor(err)
	}
	names, err := sip.Names(sipVersion)
	if err != nil {
		return exitFor(err)
	}

	// only open the logfile once the configuration is known good, so a
	// mistyped invocation does not litter the directory with empty logs
	logger := openLog()
	logger.Printf("parameters are: %v", params)
	logger.Printf("channel mapping is: %s", channels)

	gate := &sip.Gate{Source: sip.TerminalSource}
	creds, err := gate.Ensure(sipVersion)
	if err != nil {
		return exitFor(err)
	}

	seq, err := schedule.Spec{
		Start:          time.Now().UTC(),
		Interval:       interval,
		AlignFullHours: fullHours,
	}.Sequence()
	if err != nil {
		return exitFor(err)
	}

	var clock autorun.Clock = autorun.SystemClock()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		clock = autorun.SpinnerClock{Clock: clock}
	}

	client := sip.NewClient(instrumentIP, time.Duration(settings.TimeoutSeconds)*time.Second, creds)
	client.SetProbePolicy(settings.Probe.policy())

	driver := &autorun.Driver{
		Ticks: seq,
		Plan: sip.Plan{
			Basename: basename,
			Channels: channels,
			Params:   params,
			Names:    names,
		},
		Transport:    client,
		Log:          logger,
		FailureLimit: settings.FailureLimit,
		Clock:        clock,
	}

	if statusAddr != "" {
		go func() {
			logger.Printf("status endpoint listening at %s", statusAddr)
			if err := http.ListenAndServe(statusAddr, autorun.NewStatusRouter(driver)); err != nil {
				logger.Printf("status endpoint stopped: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := driver.Run(ctx); err != nil {
		return exitFor(err)
	}
	return nil
}

// requireFlags enforces the mandatory flag set for a measurement campaign.
func requireFlags() error {
	required := []struct{ name, value string }{
		{"--paramfile", paramFile},
		{"--channels-file", channelsFile},
		{"--basename", basename},
		{"--ip", instrumentIP},
	}
	for _, f := range required {
		if f.value == "" {
			return &sip.ConfigError{Source: f.name, Reason: "required"}
		}
	}
	return nil
}

// resolveInterval reconciles --interval and --interval-hours; exactly one
// must be given.
func resolveInterval() (time.Duration, error) {
	switch {
	case intervalStr != "" && intervalHours != 0:
		return 0, &sip.ConfigError{Source: "--interval", Reason: "give either --interval or --interval-hours, not both"}
	case intervalStr != "":
		return schedule.ParseInterval(intervalStr)
	case intervalHours > 0:
		return time.Duration(intervalHours * float64(time.Hour)), nil
	}
	return 0, &sip.ConfigError{Source: "--interval", Reason: "an interval is required (H:MM, or --interval-hours)"}
}

// openLog writes to stderr and a rolling logfile, generating the filename
// from the basename and start time when none is given.
func openLog() *log.Logger {
	if logFile == "" {
		logFile = fmt.Sprintf("%s-%s-autorun.log", time.Now().UTC().Format("20060102T150405Z"), basename)
	}
	lj := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 5,
	}
	return log.New(io.MultiWriter(os.Stderr, lj), "", log.LstdFlags)
}

// exitFor maps the error taxonomy to process exit codes: 2 for bad
// configuration, 3 for missing credentials, 1 for everything else.
func exitFor(err error) error {
	var ce *sip.ConfigError
	var ae *sip.AuthError
	switch {
	case errors.As(err, &ce):
		return cli.NewExitError(err.Error(), 2)
	case errors.As(err, &ae):
		return cli.NewExitError(err.Error(), 3)
	}
	return cli.NewExitError(err.Error(), 1)
}
