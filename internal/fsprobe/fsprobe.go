// Package fsprobe implements pipeline.FsProbe: the filesystem-adapter
// collaborator GET_ID and GET_INFO_FS call out to (spec.md §6.3).
package fsprobe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// osProbe is the POSIX reference implementation. It stands in for a real
// Lustre client library (liblustreapi) the examples retrieval pack did not
// surface a Go binding for — stat/stripe/HSM status are approximated with
// os.Lstat and a syscall.Stat_t, which is exactly the kind of raw OS
// boundary the standard library is for (no pack library wraps POSIX
// stat/xattr directly).
type osProbe struct {
	root string // base of BuildIDPath's .lustre/fid shortcut; empty disables it
}

// NewOSProbe returns an FsProbe rooted at root, which BuildIDPath uses as the
// base of its .lustre/fid path shortcut. osProbe keeps no id→path index:
// IDToPath always returns ErrUnsupportedType.
func NewOSProbe(root string) pipeline.FsProbe {
	return &osProbe{root: root}
}

func (p *osProbe) PathToID(fullPath string) (pipeline.EntryId, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(fullPath, &st); err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ESTALE) {
			return pipeline.EntryId{}, pipeline.ErrNotFound
		}
		return pipeline.EntryId{}, fmt.Errorf("fsprobe: stat %s: %w", fullPath, err)
	}
	return pipeline.EntryId{Seq: uint64(st.Dev), Oid: st.Ino}, nil
}

func (p *osProbe) IDToPath(id pipeline.EntryId) (string, error) {
	// No reverse index on a plain POSIX tree; callers needing id->path on a
	// filesystem without Lustre's .lustre/fid shortcut must keep their own
	// path alongside the id (the catalog does, via AttrFullPath).
	return "", pipeline.ErrUnsupportedType
}

func (p *osProbe) BuildIDPath(id pipeline.EntryId) (string, bool) {
	// Lustre exposes id->path lookups through .lustre/fid/<FID> under the
	// mount root; a plain POSIX tree has no equivalent shortcut.
	if p.root == "" {
		return "", false
	}
	return filepath.Join(p.root, ".lustre", "fid", fmt.Sprintf("[%#x:%#x:0x0]", id.Seq, id.Oid)), true
}

func (p *osProbe) Stat(path string) (pipeline.AttrSet, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pipeline.AttrSet{}, pipeline.ErrNotFound
		}
		return pipeline.AttrSet{}, fmt.Errorf("fsprobe: lstat %s: %w", path, err)
	}
	st := fi.Sys().(*syscall.Stat_t)

	a := pipeline.AttrSet{
		Mask:         pipeline.AttrType | pipeline.AttrOwner | pipeline.AttrGroup | pipeline.AttrSize | pipeline.AttrLastAccess | pipeline.AttrLastMod | pipeline.AttrCreationTime,
		Type:         entryType(fi.Mode()),
		Owner:        fmt.Sprintf("%d", st.Uid),
		Group:        fmt.Sprintf("%d", st.Gid),
		Size:         fi.Size(),
		LastAccess:   time.Unix(st.Atim.Sec, st.Atim.Nsec),
		LastMod:      fi.ModTime(),
		CreationTime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
	}
	return a, nil
}

func entryType(mode os.FileMode) string {
	switch {
	case mode.IsDir():
		return "dir"
	case mode&os.ModeSymlink != 0:
		return "symlink"
	default:
		return "file"
	}
}

func (p *osProbe) GetStripe(path string) (pipeline.StripeInfo, error) {
	// A real binding would issue the LL_IOC_LOV_GETSTRIPE ioctl; without
	// liblustreapi available in this pack, report a single-stripe default
	// rather than fabricate one.
	return pipeline.StripeInfo{StripeCount: 1, StripeSize: 1 << 20}, nil
}

func (p *osProbe) GetHSMStatus(path string) (pipeline.HSMStatusResult, error) {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pipeline.HSMStatusResult{}, pipeline.ErrNotFound
		}
		return pipeline.HSMStatusResult{}, err
	}
	// No HSM coprocessor reachable from a plain POSIX mount; every object
	// reports as new/unarchived rather than guessing a status.
	return pipeline.HSMStatusResult{Status: pipeline.StatusNew, IsNew: true}, nil
}
