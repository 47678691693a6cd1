package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCLIFollowsStandardLevel(t *testing.T) {

	view := NewCLI()

	buf := new(bytes.Buffer)
	logrus.SetOutput(buf)
	defer logrus.SetOutput(os.Stderr)

	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(level)

	view.Debugf("tracing %d", 7)
	assert.Contains(t, buf.String(), "tracing 7")
}

func TestDiscard(t *testing.T) {

	view := Discard()
	view.Debugf("debug %d", 1)
	view.Infof("info")
	view.Warnf("warn")
	view.Errorf("error")

	p := view.NewProgress("label", "KiB", 100)
	n, err := p.Write(make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	p.Increment(50)
	p.Finish(true)

	p = view.NewProgress("label", "", 0)
	p.Finish(false)
}
