package main

import (
	"compress/gzip"
	"os"
)

// writeArchive - write one blob archive file, gzipped if compressed
func writeArchive(fname string, data string, compressed bool) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	if !compressed {
		_, err = f.WriteString(data)
		return err
	}
	zw := gzip.NewWriter(f)
	if _, err = zw.Write([]byte(data)); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
