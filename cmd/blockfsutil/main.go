// Command blockfsutil is a small CLI over package fs: format a fresh image,
// list a directory, or copy a file in or out, one positional sub-command at
// a time.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/nelson137/blockfs/fs"
	"github.com/nelson137/blockfs/util"
)

func check(err error) {
	if err == nil {
		return
	}
	log.Fatal(err)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blockfsutil <image> format")
	fmt.Fprintln(os.Stderr, "       blockfsutil <image> ls <dir>")
	fmt.Fprintln(os.Stderr, "       blockfsutil <image> put <host-file> <image-path>")
	fmt.Fprintln(os.Stderr, "       blockfsutil <image> get <image-path> <host-file>")
	fmt.Fprintln(os.Stderr, "       blockfsutil <image> hexdump <image-path>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	imagePath, cmd := os.Args[1], os.Args[2]

	switch cmd {
	case "format":
		runFormat(imagePath)
	case "ls":
		if len(os.Args) != 4 {
			usage()
		}
		runLs(imagePath, os.Args[3])
	case "put":
		if len(os.Args) != 5 {
			usage()
		}
		runPut(imagePath, os.Args[3], os.Args[4])
	case "get":
		if len(os.Args) != 5 {
			usage()
		}
		runGet(imagePath, os.Args[3], os.Args[4])
	case "hexdump":
		if len(os.Args) != 4 {
			usage()
		}
		runHexdump(imagePath, os.Args[3])
	default:
		usage()
	}
}

func runFormat(imagePath string) {
	fsys, err := fs.Format()
	check(err)
	check(fsys.Serialize(imagePath))
}

func runLs(imagePath, dir string) {
	fsys, err := fs.Mount(imagePath)
	check(err)
	entries, err := fsys.GetDir(dir)
	check(err)
	for _, e := range entries {
		fmt.Printf("%d\t%s\n", e.Inum, e.Name)
	}
}

func runPut(imagePath, hostPath, imgPath string) {
	fsys, err := fs.Mount(imagePath)
	check(err)

	data, err := os.ReadFile(hostPath)
	check(err)

	check(fsys.Create(imgPath, fs.Regular))
	fdIdx, err := fsys.Open(imgPath)
	check(err)
	_, err = fsys.Write(fdIdx, data)
	check(err)
	check(fsys.Close(fdIdx))
	check(fsys.Serialize(imagePath))
}

func runGet(imagePath, imgPath, hostPath string) {
	fsys, err := fs.Mount(imagePath)
	check(err)

	fdIdx, err := fsys.Open(imgPath)
	check(err)
	defer fsys.Close(fdIdx)

	out, err := os.Create(hostPath)
	check(err)
	defer out.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := fsys.Read(fdIdx, buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				check(werr)
			}
		}
		if err != nil || n == 0 {
			break
		}
	}
}

func runHexdump(imagePath, imgPath string) {
	fsys, err := fs.Mount(imagePath)
	check(err)

	fdIdx, err := fsys.Open(imgPath)
	check(err)
	defer fsys.Close(fdIdx)

	var data []byte
	buf := make([]byte, 4096)
	for {
		n, err := fsys.Read(fdIdx, buf)
		data = append(data, buf[:n]...)
		if err != nil || n == 0 {
			break
		}
	}

	fmt.Print(util.DumpByteSlice(data, 16))
}
