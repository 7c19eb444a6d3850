package migrate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dnldd/klinesync/shared"
	"github.com/dnldd/klinesync/store"
	"github.com/spf13/afero"
)

const (
	// tmpSuffix is appended to a dataset being rewritten.
	tmpSuffix = ".tmp"
	// filePerm is the permission of a rewritten dataset.
	filePerm = 0o644
)

// Result represents the outcome of a dataset migration.
type Result struct {
	// Migrated is whether the dataset was rewritten.
	Migrated bool
	// Empty is whether the dataset is zero-length and so has no header to
	// migrate.
	Empty bool
	// Rows is the number of data rows rewritten.
	Rows int
}

// Dataset rewrites a basic layout dataset into the extended layout by
// inserting the utc open time after the raw open time of every row. A dataset
// already carrying the utc column or a zero-length dataset is left untouched.
func Dataset(fs afero.Fs, path string) (*Result, error) {
	src, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &shared.MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	srcClosed := false
	defer func() {
		if !srcClosed {
			src.Close()
		}
	}()

	r := csv.NewReader(src)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Result{Empty: true}, nil
		}
		return nil, fmt.Errorf("reading dataset header: %w", err)
	}

	if shared.DetectLayout(header) == shared.Extended {
		return &Result{}, nil
	}

	tmp := path + tmpSuffix
	dst, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", tmp, err)
	}

	rows, err := rewrite(r, csv.NewWriter(dst), header)
	if err == nil {
		err = dst.Sync()
	}
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fs.Remove(tmp)
		return nil, fmt.Errorf("rewriting dataset %s: %w", path, err)
	}

	// The source must be closed before it is replaced.
	srcClosed = true
	err = src.Close()
	if err != nil {
		fs.Remove(tmp)
		return nil, fmt.Errorf("closing dataset %s: %w", path, err)
	}

	err = fs.Rename(tmp, path)
	if err != nil {
		fs.Remove(tmp)
		return nil, fmt.Errorf("replacing dataset %s: %w", path, err)
	}

	return &Result{Migrated: true, Rows: rows}, nil
}

// rewrite streams the rows read with r to w with the utc open time column
// inserted, returning the number of data rows written.
func rewrite(r *csv.Reader, w *csv.Writer, header []string) (int, error) {
	err := w.Write(shared.InsertUTCColumn(header, shared.OpenTimeUTCColumn))
	if err != nil {
		return 0, err
	}

	var rows int
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("reading line %d: %w", line, err)
		}

		openTime, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return rows, fmt.Errorf("parsing open time on line %d: %w", line, err)
		}

		err = w.Write(shared.InsertUTCColumn(row, shared.FormatUTC(openTime)))
		if err != nil {
			return rows, err
		}
		rows++
	}

	w.Flush()
	return rows, w.Error()
}

// Watermark rewrites a legacy millisecond watermark using the utc date time
// encoding. It reports whether the file was rewritten; a missing, blank or
// already current watermark is left alone.
func Watermark(fs afero.Fs, path string) (bool, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading watermark %s: %w", path, err)
	}

	text := strings.TrimSpace(string(b))
	if text == "" {
		return false, nil
	}

	wm, err := shared.DecodeWatermark(text)
	if err != nil {
		return false, err
	}
	if wm.Encoding == shared.UTCDateTime {
		return false, nil
	}

	err = store.ReplaceFile(fs, path, []byte(shared.EncodeWatermark(wm.OpenTime)))
	if err != nil {
		return false, err
	}

	return true, nil
}
