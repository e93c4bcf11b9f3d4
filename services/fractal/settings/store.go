// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

// Config configures the settings store.
type Config struct {
	// Path is the BadgerDB directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests and the headless
	// render command, which takes all parameters from flags.
	InMemory bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// Store persists settings in BadgerDB. Values are stored as strings under
// their setting key; the palette is stored as JSON.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB transactions provide the
// isolation. Writers should still serialize semantically through the
// mutation state machine.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates or opens the settings database and seeds any missing keys
// with defaults, so first launch starts at the full set view.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: store path required", ErrConfig)
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create settings directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(false)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	store := &Store{db: db}
	if err := store.seedDefaults(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// seedDefaults writes defaults for keys that do not exist yet.
func (s *Store) seedDefaults() error {
	current, err := s.Snapshot()
	if err == nil && current.Validate() == nil {
		return nil
	}
	return s.Commit(Defaults())
}

// GetString reads one key.
func (s *Store) GetString(key string) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrConfig, key, err)
	}
	return out, nil
}

// GetInt reads one key as a signed integer.
func (s *Store) GetInt(key string) (int64, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %v", ErrConfig, key, err)
	}
	return v, nil
}

// GetFloat reads one key as a float.
func (s *Store) GetFloat(key string) (float64, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a float: %v", ErrConfig, key, err)
	}
	return v, nil
}

// GetBool reads one key as a boolean.
func (s *Store) GetBool(key string) (bool, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s is not a bool: %v", ErrConfig, key, err)
	}
	return v, nil
}

// Set writes a batch of keys in one transaction: all or nothing, so a
// failed mutation never leaves the store half-committed.
func (s *Store) Set(pairs map[string]string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for key, value := range pairs {
			if err := txn.Set([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// Snapshot reads every setting into a consistent Values struct within a
// single read transaction.
func (s *Store) Snapshot() (Values, error) {
	var v Values
	err := s.db.View(func(txn *badger.Txn) error {
		get := func(key string) (string, error) {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return "", fmt.Errorf("%w: get %s: %v", ErrConfig, key, err)
			}
			var out string
			err = item.Value(func(val []byte) error {
				out = string(val)
				return nil
			})
			return out, err
		}

		var err error
		var n int64
		var f float64

		if n, err = parseInt(get, KeyImageWidth); err != nil {
			return err
		}
		v.ImageWidth = int(n)
		if n, err = parseInt(get, KeyImageHeight); err != nil {
			return err
		}
		v.ImageHeight = int(n)
		if v.Real, err = get(KeyReal); err != nil {
			return err
		}
		if v.Imag, err = get(KeyImag); err != nil {
			return err
		}
		if v.Zoom, err = get(KeyZoom); err != nil {
			return err
		}
		if n, err = parseInt(get, KeyIterations); err != nil {
			return err
		}
		v.Iterations = uint64(n)
		if v.Rotate, err = parseFloat(get, KeyRotate); err != nil {
			return err
		}
		if n, err = parseInt(get, KeyApproximationOrder); err != nil {
			return err
		}
		v.ApproximationOrder = int(n)
		if v.IterationDivision, err = parseFloat(get, KeyIterationDivision); err != nil {
			return err
		}
		if f, err = parseFloat(get, KeyPaletteOffset); err != nil {
			return err
		}
		v.PaletteOffset = f
		if v.AnalyticDerivative, err = parseBool(get, KeyAnalyticDerivative); err != nil {
			return err
		}
		if v.WindowWidth, err = parseFloat(get, KeyWindowWidth); err != nil {
			return err
		}
		if v.WindowHeight, err = parseFloat(get, KeyWindowHeight); err != nil {
			return err
		}

		raw, err := get(KeyPalette)
		if err != nil {
			return err
		}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &v.Palette); err != nil {
				return fmt.Errorf("%w: palette is not valid JSON: %v", ErrConfig, err)
			}
		}
		return nil
	})
	if err != nil {
		return Values{}, err
	}
	return v, nil
}

// Commit writes a full Values snapshot in one transaction.
func (s *Store) Commit(v Values) error {
	palette, err := json.Marshal(v.Palette)
	if err != nil {
		return fmt.Errorf("%w: encode palette: %v", ErrConfig, err)
	}

	return s.Set(map[string]string{
		KeyImageWidth:         strconv.Itoa(v.ImageWidth),
		KeyImageHeight:        strconv.Itoa(v.ImageHeight),
		KeyReal:               v.Real,
		KeyImag:               v.Imag,
		KeyZoom:               v.Zoom,
		KeyIterations:         strconv.FormatUint(v.Iterations, 10),
		KeyRotate:             strconv.FormatFloat(v.Rotate, 'g', -1, 64),
		KeyApproximationOrder: strconv.Itoa(v.ApproximationOrder),
		KeyPalette:            string(palette),
		KeyIterationDivision:  strconv.FormatFloat(v.IterationDivision, 'g', -1, 64),
		KeyPaletteOffset:      strconv.FormatFloat(v.PaletteOffset, 'g', -1, 64),
		KeyAnalyticDerivative: strconv.FormatBool(v.AnalyticDerivative),
		KeyWindowWidth:        strconv.FormatFloat(v.WindowWidth, 'g', -1, 64),
		KeyWindowHeight:       strconv.FormatFloat(v.WindowHeight, 'g', -1, 64),
	})
}

func parseInt(get func(string) (string, error), key string) (int64, error) {
	raw, err := get(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %v", ErrConfig, key, err)
	}
	return v, nil
}

func parseFloat(get func(string) (string, error), key string) (float64, error) {
	raw, err := get(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a float: %v", ErrConfig, key, err)
	}
	return v, nil
}

func parseBool(get func(string) (string, error), key string) (bool, error) {
	raw, err := get(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s is not a bool: %v", ErrConfig, key, err)
	}
	return v, nil
}
