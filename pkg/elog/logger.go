package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is the leveled logging surface passed around the disk packages.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Progress reports progress on one long-running operation. It implements
// io.Writer so it can sit in an io.MultiWriter alongside the real output.
type Progress interface {
	io.Writer
	Increment(n int64)
	Finish(success bool)
}

// View is a Logger that can also spawn progress reports.
type View interface {
	Logger
	NewProgress(label string, units string, total int64) Progress
}

type cliView struct {
	*logrus.Logger
	container *mpb.Progress
}

// NewCLI returns a View that logs through the standard logrus logger and
// renders progress bars on stderr. Sharing the standard logger means
// logrus.SetLevel controls the view's verbosity too.
func NewCLI() View {

	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	return &cliView{
		Logger:    log,
		container: mpb.New(mpb.WithOutput(os.Stderr)),
	}
}

type cliProgress struct {
	bar *mpb.Bar
}

func (v *cliView) NewProgress(label string, units string, total int64) Progress {

	var options []mpb.BarOption
	options = append(options, mpb.PrependDecorators(decor.Name(label)))
	if units != "" {
		options = append(options, mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")))
	}

	return &cliProgress{
		bar: v.container.AddBar(total, options...),
	}
}

func (p *cliProgress) Write(b []byte) (int, error) {
	p.bar.IncrBy(len(b))
	return len(b), nil
}

func (p *cliProgress) Increment(n int64) {
	p.bar.IncrInt64(n)
}

func (p *cliProgress) Finish(success bool) {
	if !success {
		p.bar.Abort(false)
		return
	}
	p.bar.SetTotal(p.bar.Current(), true)
}

type discardView struct {
	*logrus.Logger
}

type discardProgress struct {
}

func (p discardProgress) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p discardProgress) Increment(n int64) {
}

func (p discardProgress) Finish(success bool) {
}

func (v discardView) NewProgress(label string, units string, total int64) Progress {
	return discardProgress{}
}

// Discard returns a View that swallows everything. Library callers that
// don't care about logging can pass this.
func Discard() View {

	log := logrus.New()
	log.SetOutput(ioutil.Discard)

	return discardView{Logger: log}
}
