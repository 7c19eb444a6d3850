package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dnldd/klinesync/shared"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// filePerm is the permission used for created files.
	filePerm = 0o644
	// dirPerm is the permission used for created directories.
	dirPerm = 0o755
	// tmpSuffix is appended to paths being atomically replaced.
	tmpSuffix = ".tmp"
)

// StoreConfig represents the configuration for the kline store.
type StoreConfig struct {
	// Fs is the backing filesystem.
	Fs afero.Fs
	// DatasetPath is the path to the kline dataset.
	DatasetPath string
	// WatermarkPath is the path to the watermark file.
	WatermarkPath string
	// Layout is the column layout used when creating a new dataset.
	Layout shared.Layout
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Store represents the append-only kline dataset and its watermark.
type Store struct {
	cfg    *StoreConfig
	layout shared.Layout
}

// Ensure the store implements the KlineStorer interface.
var _ shared.KlineStorer = (*Store)(nil)

// Validate asserts the config sane inputs.
func (cfg *StoreConfig) Validate() error {
	var errs error
	if cfg.Fs == nil {
		errs = errors.Join(errs, fmt.Errorf("filesystem cannot be nil"))
	}
	if cfg.DatasetPath == "" {
		errs = errors.Join(errs, fmt.Errorf("dataset path cannot be an empty string"))
	}
	if cfg.WatermarkPath == "" {
		errs = errors.Join(errs, fmt.Errorf("watermark path cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	return errs
}

// NewStore initializes a new kline store.
func NewStore(cfg *StoreConfig) (*Store, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating store config: %w", err)
	}

	return &Store{
		cfg:    cfg,
		layout: cfg.Layout,
	}, nil
}

// Layout returns the layout rows are appended with.
func (s *Store) Layout() shared.Layout {
	return s.layout
}

// EnsureInitialized creates the storage directories and writes the dataset
// header if the dataset is absent or empty. For an existing dataset the layout
// is taken from its header.
func (s *Store) EnsureInitialized() error {
	for _, path := range []string{s.cfg.DatasetPath, s.cfg.WatermarkPath} {
		dir := filepath.Dir(path)
		err := s.cfg.Fs.MkdirAll(dir, dirPerm)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	size, err := s.datasetSize()
	if err != nil {
		return err
	}

	if size > 0 {
		header, err := s.readHeader()
		if err != nil {
			return err
		}
		s.layout = shared.DetectLayout(header)
		return nil
	}

	f, err := s.cfg.Fs.OpenFile(s.cfg.DatasetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("creating dataset %s: %w", s.cfg.DatasetPath, err)
	}

	err = writeRows(f, [][]string{s.cfg.Layout.Header()})
	if err != nil {
		return fmt.Errorf("writing dataset header: %w", err)
	}

	s.layout = s.cfg.Layout
	s.cfg.Logger.Info().Msgf("initialized %s dataset %s", s.layout.String(), s.cfg.DatasetPath)

	return nil
}

// datasetSize returns the size of the dataset file, zero if it does not exist.
func (s *Store) datasetSize() (int64, error) {
	info, err := s.cfg.Fs.Stat(s.cfg.DatasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("inspecting dataset %s: %w", s.cfg.DatasetPath, err)
	}

	return info.Size(), nil
}

// IsEmptyOrMissing returns whether the dataset is absent or holds no klines.
// A dataset with only a header row is empty.
func (s *Store) IsEmptyOrMissing() (bool, error) {
	size, err := s.datasetSize()
	if err != nil {
		return false, err
	}
	if size == 0 {
		return true, nil
	}

	f, err := s.cfg.Fs.Open(s.cfg.DatasetPath)
	if err != nil {
		return false, fmt.Errorf("opening dataset %s: %w", s.cfg.DatasetPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for range 2 {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading dataset %s: %w", s.cfg.DatasetPath, err)
		}
	}

	return false, nil
}

// readHeader reads the header row of the dataset.
func (s *Store) readHeader() ([]string, error) {
	f, err := s.cfg.Fs.Open(s.cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", s.cfg.DatasetPath, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("reading dataset header: %w", err)
	}

	return header, nil
}

// writeRows writes the provided rows, syncs and closes the file.
func writeRows(f afero.File, rows [][]string) error {
	w := csv.NewWriter(f)
	err := w.WriteAll(rows)
	if err != nil {
		f.Close()
		return err
	}

	err = f.Sync()
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Append appends the provided klines to the dataset in order. Prior content is
// never rewritten.
func (s *Store) Append(candles []shared.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(candles))
	for idx := range candles {
		rows = append(rows, candles[idx].Row(s.layout))
	}

	f, err := s.cfg.Fs.OpenFile(s.cfg.DatasetPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("opening dataset %s for append: %w", s.cfg.DatasetPath, err)
	}

	err = writeRows(f, rows)
	if err != nil {
		return fmt.Errorf("appending %d rows: %w", len(rows), err)
	}

	return nil
}

// OpenTimes returns the open times of all stored klines in file order.
func (s *Store) OpenTimes() ([]int64, error) {
	var openTimes []int64
	err := s.scan(func(candle *shared.Candle) {
		openTimes = append(openTimes, candle.OpenTime)
	})
	if err != nil {
		return nil, err
	}

	return openTimes, nil
}

// LastOpenTime returns the open time of the last stored kline.
func (s *Store) LastOpenTime() (int64, bool, error) {
	var last int64
	var found bool
	err := s.scan(func(candle *shared.Candle) {
		last = candle.OpenTime
		found = true
	})
	if err != nil {
		return 0, false, err
	}

	return last, found, nil
}

// scan invokes fn for every data row of the dataset.
func (s *Store) scan(fn func(candle *shared.Candle)) error {
	f, err := s.cfg.Fs.Open(s.cfg.DatasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening dataset %s: %w", s.cfg.DatasetPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("reading dataset header: %w", err)
	}

	layout := shared.DetectLayout(header)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading dataset line %d: %w", line, err)
		}

		candle, err := shared.ParseRow(row, layout)
		if err != nil {
			return fmt.Errorf("parsing dataset line %d: %w", line, err)
		}

		fn(&candle)
	}
}

// ReadWatermark reads the persisted watermark. An absent or blank watermark
// file reports no watermark.
func (s *Store) ReadWatermark() (int64, bool, error) {
	b, err := afero.ReadFile(s.cfg.Fs, s.cfg.WatermarkPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading watermark %s: %w", s.cfg.WatermarkPath, err)
	}

	text := strings.TrimSpace(string(b))
	if text == "" {
		return 0, false, nil
	}

	wm, err := shared.DecodeWatermark(text)
	if err != nil {
		return 0, false, err
	}

	if wm.Encoding == shared.LegacyMillis {
		s.cfg.Logger.Debug().Msgf("read legacy millisecond watermark %d", wm.OpenTime)
	}

	return wm.OpenTime, true, nil
}

// WriteWatermark persists the provided watermark using the utc date time
// encoding, replacing any prior content.
func (s *Store) WriteWatermark(openTime int64) error {
	return ReplaceFile(s.cfg.Fs, s.cfg.WatermarkPath, []byte(shared.EncodeWatermark(openTime)))
}

// ReplaceFile atomically replaces the contents of the file at path by writing
// a temporary sibling and renaming it over the original.
func ReplaceFile(fs afero.Fs, path string, data []byte) error {
	tmp := path + tmpSuffix
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	err = fs.Rename(tmp, path)
	if err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}
