// Command mkfs builds a bootable disk image: a freshly formatted
// filesystem containing a /bin directory populated with the simulator's
// built-in programs (see rvos/progs), optionally augmented with files
// copied in from a host skeleton directory. Grounded on
// biscuit/src/mkfs/mkfs.go's image-building role, restructured around
// cobra the way the rest of the example pack's CLIs are (gcsfuse,
// go-fuse) rather than biscuit's bare flag parsing.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rvos/blk"
	"rvos/elfstub"
	"rvos/fs"
	"rvos/progs"
	"rvos/ustr"
)

var (
	output            string
	diskBlocks        int
	inodeBitmapBlocks int
	skelDir           string
	stubCodeSize      int
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Build a disk image for the rvos kernel simulator",
		RunE:  run,
	}
	root.Flags().StringVar(&output, "output", "disk.img", "path to the disk image file to create")
	root.Flags().IntVar(&diskBlocks, "blocks", 8192, "total 512-byte blocks in the image")
	root.Flags().IntVar(&inodeBitmapBlocks, "inode-bitmap-blocks", 4, "blocks reserved for the inode allocation bitmap")
	root.Flags().StringVar(&skelDir, "skel", "", "optional host directory whose files are copied into the image's root")
	root.Flags().IntVar(&stubCodeSize, "stub-size", 256, "byte size of each built-in program's placeholder ELF segment")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	disk, err := blk.OpenFileDisk(output, diskBlocks)
	if err != nil {
		return fmt.Errorf("mkfs: open %s: %w", output, err)
	}
	defer disk.Close()

	efs, err := fs.Create(disk, uint32(diskBlocks), uint32(inodeBitmapBlocks))
	if err != nil {
		return fmt.Errorf("mkfs: create filesystem: %w", err)
	}

	root := fs.Root(efs)
	bin, err := root.CreateDir(ustr.Ustr("bin"))
	if err != nil {
		return fmt.Errorf("mkfs: create /bin: %w", err)
	}

	for name := range progs.Table() {
		base := strings.TrimPrefix(name, "/bin/")
		if err := writeStub(bin, base, stubCodeSize); err != nil {
			return err
		}
		fmt.Printf("wrote /bin/%s\n", base)
	}

	if skelDir != "" {
		if err := addSkel(root, skelDir); err != nil {
			return err
		}
	}

	if err := efs.Sync(); err != nil {
		return fmt.Errorf("mkfs: sync: %w", err)
	}
	fmt.Printf("wrote %s (%d blocks)\n", output, diskBlocks)
	return nil
}

// writeStub creates name under dir and fills it with a minimal,
// genuinely ELF-loader-parseable placeholder binary (see rvos/elfstub):
// the simulator's actual behavior for this path comes from the matching
// entry in progs.Table, never from interpreting these bytes as
// instructions.
func writeStub(dir *fs.FileHandle_t, name string, codeSize int) error {
	h, err := dir.CreateFile(ustr.Ustr(name))
	if err != nil {
		return fmt.Errorf("mkfs: create /bin/%s: %w", name, err)
	}
	data := elfstub.Build(codeSize)
	if _, err := h.WriteAt(0, data); err != nil {
		return fmt.Errorf("mkfs: write /bin/%s: %w", name, err)
	}
	return nil
}

// addSkel copies every regular file under skel (recursively, mirroring
// its directory structure) into the image rooted at root, the same
// role biscuit/src/mkfs/mkfs.go's addfiles/copydata pair played for the
// teacher's own skeleton-directory argument.
func addSkel(root *fs.FileHandle_t, skel string) error {
	dirs := map[string]*fs.FileHandle_t{".": root}
	return filepath.WalkDir(skel, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(skel, path)
		if rerr != nil || rel == "." {
			return rerr
		}
		parentRel := filepath.Dir(rel)
		parent, ok := dirs[parentRel]
		if !ok {
			return fmt.Errorf("mkfs: skel: %s: parent directory not yet created", rel)
		}
		if d.IsDir() {
			h, err := parent.CreateDir(ustr.Ustr(d.Name()))
			if err != nil {
				return fmt.Errorf("mkfs: skel: mkdir %s: %w", rel, err)
			}
			dirs[rel] = h
			return nil
		}
		h, err := parent.CreateFile(ustr.Ustr(d.Name()))
		if err != nil {
			return fmt.Errorf("mkfs: skel: create %s: %w", rel, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := h.WriteAt(0, data); err != nil {
			return fmt.Errorf("mkfs: skel: write %s: %w", rel, err)
		}
		return nil
	})
}
