package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"

	"github.com/pkg/errors"

	"github.com/vorteil/vhdkit/pkg/elog"
	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vmdk"
)

// Convert streams a fixed-type VHD rendition of src into dst and returns
// the number of bytes written, including the trailing footer.
func Convert(dst io.Writer, src vmdk.GrainReader, log elog.View) (int64, error) {

	if log == nil {
		log = elog.Discard()
	}

	capacity := src.Capacity()
	log.Debugf("converting %d byte image to fixed vhd", capacity)

	progress := log.NewProgress("Converting image", "KiB", capacity+vhd.FooterSize)

	n, err := io.Copy(io.MultiWriter(dst, progress), NewStream(src))
	progress.Finish(err == nil)
	if err != nil {
		return n, errors.Wrap(err, "converting image")
	}

	return n, nil
}
