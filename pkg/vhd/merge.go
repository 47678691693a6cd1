package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vorteil/vhdkit/pkg/vio"
)

// mergeGate bounds the number of merges running at once, process-wide.
// Merges are I/O heavy and batch jobs tend to trigger them in bulk; a
// third call queues until one of the first two finishes.
var mergeGate = semaphore.NewWeighted(2)

// Merge flattens the differencing disk at childPath into its parent at
// parentPath and returns the number of data bytes transferred, as counted
// by each block's sector allocation bitmap. A return of 0 means the child
// had no allocated blocks.
//
// The parent is opened read-write, the child read-only; both handles are
// closed on every exit path. Merge is not transactional: a failure during
// block coalescing or the footer rewrite can leave the parent partially
// merged with a stale footer. Callers that need atomicity should work on a
// copy of the parent.
func Merge(ctx context.Context, parentHandler vio.Handler, parentPath string, childHandler vio.Handler, childPath string) (int64, error) {

	err := mergeGate.Acquire(ctx, 1)
	if err != nil {
		return 0, err
	}
	defer mergeGate.Release(1)

	pf, err := parentHandler.Open(parentPath, os.O_RDWR)
	if err != nil {
		return 0, errors.Wrapf(err, "opening merge target %s", parentPath)
	}
	defer pf.Close()

	cf, err := childHandler.Open(childPath, os.O_RDONLY)
	if err != nil {
		return 0, errors.Wrapf(err, "opening merge source %s", childPath)
	}
	defer cf.Close()

	parent := NewDisk(pf)
	child := NewDisk(cf)

	g := new(errgroup.Group)
	g.Go(parent.ReadHeaderAndFooter)
	g.Go(child.ReadHeaderAndFooter)
	err = g.Wait()
	if err != nil {
		return 0, err
	}

	err = checkMergePair(parent, child)
	if err != nil {
		return 0, err
	}

	g = new(errgroup.Group)
	g.Go(parent.ReadBlockAllocationTable)
	g.Go(child.ReadBlockAllocationTable)
	err = g.Wait()
	if err != nil {
		return 0, err
	}

	err = parent.EnsureBATSize(child.header.MaxTableEntries)
	if err != nil {
		return 0, err
	}

	var merged int64
	for idx := 0; idx < int(child.header.MaxTableEntries); idx++ {
		if !child.ContainsBlock(idx) {
			continue
		}

		n, err := parent.CoalesceBlock(child, idx)
		if err != nil {
			return merged, errors.Wrapf(err, "coalescing block %d", idx)
		}
		merged += n
	}

	// The child is the newer state of the disk, so its identity and
	// geometry win.
	parent.footer.CurrentSize = child.footer.CurrentSize
	parent.footer.OriginalSize = child.footer.OriginalSize
	parent.footer.DiskGeometry = child.footer.DiskGeometry
	parent.footer.TimeStamp = child.footer.TimeStamp
	parent.footer.UniqueID = child.footer.UniqueID

	err = parent.WriteFooter()
	if err != nil {
		return merged, err
	}

	logrus.WithFields(logrus.Fields{
		"parent": parentPath,
		"child":  childPath,
		"bytes":  merged,
	}).Debug("merged differencing disk")

	return merged, nil
}

// checkMergePair enforces the structural preconditions of a merge before
// anything is mutated.
func checkMergePair(parent, child *Disk) error {

	switch DiskType(parent.footer.DiskType) {
	case DynamicDisk, DifferencingDisk:
	default:
		return errors.Errorf("merge target %s is a %s disk; must be dynamic or differencing", parent.f.Name(), DiskType(parent.footer.DiskType))
	}

	if DiskType(child.footer.DiskType) != DifferencingDisk {
		return errors.Errorf("merge source %s is a %s disk; must be differencing", child.f.Name(), DiskType(child.footer.DiskType))
	}

	if parent.header.BlockSize != child.header.BlockSize {
		return errors.Errorf("block size mismatch: parent %d, child %d", parent.header.BlockSize, child.header.BlockSize)
	}

	return nil
}
