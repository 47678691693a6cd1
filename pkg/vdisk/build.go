package vdisk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/vorteil/vhdkit/pkg/elog"
)

// BuildArgs contains all arguments a caller can use to customize the
// behaviour of the Build function.
type BuildArgs struct {
	Source io.ReadSeeker
	Size   int64
	Format Format
	Logger elog.View
}

// zeroScan is a HolePredictor built by scanning a seekable RAW source once
// at block granularity, so sparse output formats can skip empty regions.
type zeroScan struct {
	size  int64
	block int64
	holes []bool
}

func newZeroScan(src io.ReadSeeker, size, block int64) (*zeroScan, error) {

	zs := &zeroScan{
		size:  size,
		block: block,
		holes: make([]bool, (size+block-1)/block),
	}

	_, err := src.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, block)
	for i := range zs.holes {

		n, err := io.ReadFull(src, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			return nil, err
		}

		zs.holes[i] = isZero(buf[:n])
	}

	_, err = src.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	return zs, nil
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func (zs *zeroScan) Size() int64 {
	return zs.size
}

func (zs *zeroScan) RegionIsHole(begin, size int64) bool {

	first := begin / zs.block
	last := (begin + size - 1) / zs.block

	for i := first; i <= last && i < int64(len(zs.holes)); i++ {
		if !zs.holes[i] {
			return false
		}
	}
	return true
}

// Build copies the RAW image in args.Source through the format's writer
// into w.
func Build(ctx context.Context, w io.WriteSeeker, args *BuildArgs) error {

	log := args.Logger
	if log == nil {
		log = elog.Discard()
	}

	if args.Size%args.Format.Alignment() != 0 {
		return errors.Errorf("image size %d is not aligned to %d", args.Size, args.Format.Alignment())
	}

	zs, err := newZeroScan(args.Source, args.Size, args.Format.Alignment())
	if err != nil {
		return errors.Wrap(err, "scanning source image")
	}

	writer, err := writerFuncs[args.Format](w, zs)
	if err != nil {
		return err
	}

	progress := log.NewProgress("Writing image", "KiB", args.Size)

	// Sparse formats want holes seeked over, not written through. RAW
	// output has no hole representation, so everything is copied.
	block := args.Format.Alignment()
	skipHoles := args.Format != RAWFormat

	for i := range zs.holes {

		select {
		case <-ctx.Done():
			progress.Finish(false)
			return ctx.Err()
		default:
		}

		begin := int64(i) * block

		if skipHoles && zs.holes[i] {
			_, err = writer.Seek(begin+block, io.SeekStart)
			if err != nil {
				progress.Finish(false)
				return errors.Wrap(err, "seeking over hole")
			}
			_, err = args.Source.Seek(begin+block, io.SeekStart)
			if err != nil {
				progress.Finish(false)
				return errors.Wrap(err, "seeking over hole")
			}
			progress.Increment(block)
			continue
		}

		_, err = io.CopyN(io.MultiWriter(writer, progress), args.Source, block)
		if err != nil {
			progress.Finish(false)
			return errors.Wrap(err, "writing image")
		}
	}

	err = writer.Close()
	progress.Finish(err == nil)
	return err
}
