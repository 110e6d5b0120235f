package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"imgdht/internal/clientproto"
	"imgdht/internal/wire"
)

func main() {
	addr := flag.String("s", "", "address of the node to query (FQDN:port)")
	name := flag.String("q", "", "image name to look up (e.g. ShipatSea.tga)")
	out := flag.String("o", "", "path to write the rendered PPM file (default: <name> with .ppm extension)")
	flag.Parse()

	if *addr == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: client -s <FQDN:port> -q <name.tga> [-o out.ppm]")
		os.Exit(2)
	}

	res, err := clientproto.Find(*addr, *name)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}
	if !res.Found {
		fmt.Printf("%s: not found\n", *name)
		os.Exit(1)
	}

	path := *out
	if path == "" {
		path = strings.TrimSuffix(filepath.Base(*name), filepath.Ext(*name)) + ".ppm"
	}
	if err := writePPM(path, res.Meta, res.Bytes); err != nil {
		log.Fatalf("rendering image: %v", err)
	}
	fmt.Printf("%s: %dx%d, %d bytes/pixel, format=%d -> %s\n",
		*name, res.Meta.Width, res.Meta.Height, res.Meta.Depth, res.Meta.Format, path)
}

// writePPM renders a resolved image as a binary PPM (P6), the simplest
// format any local image viewer opens without a GUI toolkit dependency.
// Alpha and luminance-alpha images drop their alpha channel; luminance
// images are replicated across all three channels.
func writePPM(path string, meta wire.ImageMeta, pixels []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "P6\n%d %d\n255\n", meta.Width, meta.Height)

	depth := int(meta.Depth)
	pixelCount := int(meta.Width) * int(meta.Height)
	for i := 0; i < pixelCount; i++ {
		px := pixels[i*depth : (i+1)*depth]
		switch meta.Format {
		case wire.FormatLuminance:
			w.Write([]byte{px[0], px[0], px[0]})
		case wire.FormatLuminanceAlpha:
			w.Write([]byte{px[0], px[0], px[0]})
		case wire.FormatRGB, wire.FormatRGBA:
			w.Write(px[:3])
		default:
			w.Write([]byte{0, 0, 0})
		}
	}
	return w.Flush()
}
