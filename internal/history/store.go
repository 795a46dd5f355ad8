/*
bt-battery-monitor - Tracks battery levels of Bluetooth peripherals
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	ReadingsFileName   = "battery_history.json"
	DrainRatesFileName = "drain_rates.json"
	lockFileName       = ".lock"
)

// Store persists readings and drain models between runs.
type Store interface {
	Load() (map[string][]Reading, map[string]float64, error)
	SaveReadings(map[string][]Reading) error
	SaveDrainRates(map[string]float64) error
}

// FileStore keeps each record in its own JSON file in Dir. Files are replaced
// atomically so a crash never leaves a partial file behind.
type FileStore struct {
	fs   afero.Fs
	dir  string
	lock *flock.Flock
}

// NewFileStore returns a store on the local filesystem. Access is guarded by
// a lock file so other processes can read the history while it is updated.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		fs:   afero.NewOsFs(),
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// NewFileStoreFs returns a store on fs, without inter-process locking.
func NewFileStoreFs(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

// Load reads both records. A missing file is an empty record. A file that
// cannot be decoded gives an empty record and an error.
func (s *FileStore) Load() (map[string][]Reading, map[string]float64, error) {
	readings := map[string][]Reading{}
	rates := map[string]float64{}
	err := s.withLock(false, func() error {
		errR := s.read(ReadingsFileName, &readings)
		if errR != nil {
			readings = map[string][]Reading{}
		}
		errD := s.read(DrainRatesFileName, &rates)
		if errD != nil {
			rates = map[string]float64{}
		}
		return errors.Join(errR, errD)
	})
	return readings, rates, err
}

func (s *FileStore) SaveReadings(readings map[string][]Reading) error {
	return s.withLock(true, func() error {
		return s.write(ReadingsFileName, readings)
	})
}

func (s *FileStore) SaveDrainRates(rates map[string]float64) error {
	return s.withLock(true, func() error {
		return s.write(DrainRatesFileName, rates)
	})
}

func (s *FileStore) withLock(exclusive bool, f func() error) error {
	if s.lock == nil {
		return f()
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	var err error
	if exclusive {
		err = s.lock.Lock()
	} else {
		err = s.lock.RLock()
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", s.lock.Path(), err)
	}
	defer s.lock.Unlock()
	return f()
}

func (s *FileStore) read(name string, v interface{}) error {
	path := filepath.Join(s.dir, name)
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) write(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, s.dir, name+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmp.Name())
		return err
	}
	path := filepath.Join(s.dir, name)
	if err := s.fs.Rename(tmp.Name(), path); err != nil {
		s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
