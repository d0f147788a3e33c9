package deck

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// checkRows verifies that every row references an existing audio file and
// that no two rows share one.
func checkRows(p *Package) error {
	if len(p.Rows) == 0 {
		return fmt.Errorf("package %q has no rows", p.Name)
	}
	seen := make(map[string]int, len(p.Rows))
	for i, r := range p.Rows {
		if prev, dup := seen[r.Audio.Filename]; dup {
			return fmt.Errorf("rows %d and %d share audio %s", prev+1, i+1, r.Audio.Filename)
		}
		seen[r.Audio.Filename] = i
		if _, err := os.Stat(r.Audio.Path); err != nil {
			return fmt.Errorf("row %d audio: %w", i+1, err)
		}
	}
	return nil
}

// zipBuilder writes archive entries into memory with a fixed timestamp.
type zipBuilder struct {
	buf bytes.Buffer
	zw  *zip.Writer
	mod time.Time
}

func newZipBuilder(mod time.Time) *zipBuilder {
	z := &zipBuilder{mod: mod}
	z.zw = zip.NewWriter(&z.buf)
	return z
}

// addBytes stores data under name.
func (z *zipBuilder) addBytes(name string, data []byte, method uint16) error {
	w, err := z.zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: z.mod})
	if err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

// addFile copies the file at path into the archive as name. MP3 data is
// already compressed, so it is stored.
func (z *zipBuilder) addFile(ctx context.Context, name, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := z.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: z.mod})
	if err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	return nil
}

func (z *zipBuilder) bytes() ([]byte, error) {
	if err := z.zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return z.buf.Bytes(), nil
}
