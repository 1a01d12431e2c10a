// Package progress persists the resume point of a conversion job.
//
// A record is a single small file holding the highest contiguous completed
// segment index as a plain integer. Its absence means "start from segment 0".
package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// None is the LastCompleted value of a job with nothing completed.
const None = -1

// ErrLocked is returned by Lock when another run holds the job.
var ErrLocked = errors.New("progress: job is locked by another run")

// Record is the persisted progress of one job.
type Record struct {
	JobID         string
	LastCompleted int
}

// Store keeps one record file per job under Dir.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the record file for jobID.
func (s *Store) Path(jobID string) string {
	return filepath.Join(s.Dir, jobID+".progress")
}

// Load reads the record for jobID. A missing file yields LastCompleted == None
// and found == false. Unparseable content is reported as an error.
func (s *Store) Load(jobID string) (rec Record, found bool, err error) {
	rec = Record{JobID: jobID, LastCompleted: None}
	data, err := os.ReadFile(s.Path(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("read progress: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return rec, false, fmt.Errorf("parse progress %s: %w", s.Path(jobID), err)
	}
	rec.LastCompleted = n
	return rec, true, nil
}

// Save writes the record atomically (temp file + rename).
func (s *Store) Save(rec Record) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, rec.JobID+".progress.*")
	if err != nil {
		return fmt.Errorf("create progress temp: %w", err)
	}
	if _, err := tmp.WriteString(strconv.Itoa(rec.LastCompleted)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close progress: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(rec.JobID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit progress: %w", err)
	}
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(jobID string) error {
	if err := os.Remove(s.Path(jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// Lock takes an exclusive, non-blocking lock on jobID so that only one run
// writes its record and segment artifacts at a time. The lock file is left
// in place after unlock; removing it would let two runs lock different inodes.
func (s *Store) Lock(jobID string) (unlock func() error, err error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	path := filepath.Join(s.Dir, jobID+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl.Unlock, nil
}
