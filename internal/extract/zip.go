package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// maxZipEntrySize caps a single decompressed XML part.
const maxZipEntrySize = 256 << 20

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	return zr, nil
}

// readZipEntry returns the contents of the entry called name, or nil if there is none.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxZipEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > maxZipEntrySize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxZipEntrySize)
	}
	return data, nil
}

// joinMatches joins the first capture group of every match with single spaces.
func joinMatches(b *bytes.Buffer, matches [][][]byte) {
	for _, m := range matches {
		text := bytes.TrimSpace(m[1])
		if len(text) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.Write(text)
	}
}
