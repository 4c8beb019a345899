// Command resume writes a G-code file that continues a failed print from a
// given height.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/print-resume/backend/internal/config"
	"github.com/print-resume/backend/internal/gcode"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
	"github.com/print-resume/backend/internal/resume"
	"github.com/print-resume/backend/internal/session"
)

const (
	exitOK    = 0
	exitIO    = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

// optFloat is a float flag that remembers whether it was set.
type optFloat struct {
	v   float64
	set bool
}

func (f *optFloat) String() string {
	if f == nil || !f.set {
		return ""
	}
	return strconv.FormatFloat(f.v, 'f', -1, 64)
}

func (f *optFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f *optFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

type options struct {
	input       string
	output      string
	height      optFloat
	layerHeight optFloat
	safeX       optFloat
	safeY       optFloat
	bedTemp     optFloat
	hotendTemp  optFloat
	profile     string
	macro       bool
	logLevel    string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: resume [flags] FILE\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.Var(&o.height, "z", "height in mm the print failed at (required)")
	fs.Var(&o.height, "height", "alias for -z")
	fs.StringVar(&o.output, "o", "", "output file (default <name>_resumed<ext>)")
	fs.StringVar(&o.output, "output", "", "alias for -o")
	fs.Var(&o.layerHeight, "lh", "layer height in mm (default 0.2)")
	fs.Var(&o.layerHeight, "layer-height", "alias for -lh")
	fs.Var(&o.safeX, "safe-z-home-x", "X of the safe homing position, used by -macro")
	fs.Var(&o.safeY, "safe-z-home-y", "Y of the safe homing position, used by -macro")
	fs.Var(&o.bedTemp, "bed-temp", "bed temperature, overrides the detected one")
	fs.Var(&o.hotendTemp, "hotend-temp", "hotend temperature, overrides the detected one")
	fs.StringVar(&o.profile, "profile", "", "printer profile YAML file")
	fs.BoolVar(&o.macro, "macro", false, "print the firmware resume macro and exit")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn, error, off")

	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if o.macro {
		return o, nil
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "resume: exactly one input file is required")
		fs.Usage()
		return nil, errUsage
	}
	if !o.height.set {
		fmt.Fprintln(stderr, "resume: -z is required")
		fs.Usage()
		return nil, errUsage
	}
	o.input = fs.Arg(0)
	if o.output == "" {
		o.output = filepath.Join(filepath.Dir(o.input), session.OutputName(filepath.Base(o.input)))
	}
	return o, nil
}

// defaults returns the resume defaults with the profile and flags applied.
func (o *options) defaults() (config.ResumeDefaults, error) {
	d := config.DefaultResume()
	if o.profile != "" {
		p, err := config.ParsePrinterProfileFile(o.profile)
		if err != nil {
			return d, err
		}
		d = p.Apply(d)
	}
	if o.layerHeight.set {
		d.LayerHeight = o.layerHeight.v
	}
	if o.safeX.set {
		d.SafeHomeX = o.safeX.v
	}
	if o.safeY.set {
		d.SafeHomeY = o.safeY.v
	}
	return d, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if err != nil {
		return exitUsage
	}

	lvl, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitUsage
	}
	logging.SetOutput(stderr)
	logging.SetLevel(lvl)

	d, err := o.defaults()
	if err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitIO
	}

	if o.macro {
		fmt.Fprint(stdout, resume.MacroTemplate(d.SafeHomeX, d.SafeHomeY))
		return exitOK
	}

	cfg := models.ResumeConfig{
		TargetHeight:       o.height.v,
		LayerHeight:        d.LayerHeight,
		SafeHomeX:          d.SafeHomeX,
		SafeHomeY:          d.SafeHomeY,
		BedTempOverride:    o.bedTemp.ptr(),
		HotendTempOverride: o.hotendTemp.ptr(),
	}
	if err := resume.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitUsage
	}

	doc, err := gcode.LoadDocument(o.input)
	if err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitIO
	}

	engine := resume.NewEngine(resume.Options{
		KeepPrefixes:     d.KeepPrefixes,
		PauseCommand:     d.PauseCommand,
		TemperatureLines: d.TemperatureLines,
	})
	res, err := engine.Run(doc, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitUsage
	}

	if err := resume.SaveDocument(o.output, res.Output); err != nil {
		fmt.Fprintf(stderr, "resume: %v\n", err)
		return exitIO
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", w)
	}
	fmt.Fprintln(stdout, resume.Instructions(res, resume.HeaderParams{
		ResumeHeight: cfg.TargetHeight,
		LayerHeight:  cfg.LayerHeight,
		Temperatures: res.Temperatures,
		PauseCommand: d.PauseCommand,
	}, filepath.Base(o.output)))
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
