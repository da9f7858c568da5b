// Command binaural-render renders a YAML session program to a WAV file.
//
//	binaural-render -o session.wav program.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/binaural/internal/program"
)

func main() {
	out := flag.String("o", "session.wav", "output WAV file")
	verbose := flag.Bool("v", false, "log engine events")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-o out.wav] [-v] program.yaml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := render(ctx, flag.Arg(0), *out, log); err != nil {
		log.WithError(err).Error("render failed")
		os.Exit(1)
	}
}

func render(ctx context.Context, in, out string, log *logrus.Logger) error {
	p, err := program.Load(in)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}

	began := time.Now()
	if err := program.Render(ctx, p, f, log); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"program":  p.Name,
		"duration": p.Duration,
		"took":     time.Since(began).Round(time.Millisecond),
		"file":     out,
	}).Info("rendered")
	fmt.Println(out)
	return nil
}
