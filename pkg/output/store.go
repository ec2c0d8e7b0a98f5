// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package output

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bbfuzz/profuzz/pkg/traits"
)

const (
	journalName    = "crashes.json"
	reproducersDir = "crashes"
)

// Store is the on-disk layout described in spec.md §6: a JSON crash
// journal (journalName) and a directory of triage-confirmed reproducer
// files (reproducersDir), both rooted at Dir.
type Store struct {
	Dir string
}

// Open prepares Dir for a run. If Dir already exists, it proceeds only
// when autoResume is true — otherwise the caller is expected to have
// asked the operator to pass --auto-resume, and we fail loudly rather than
// silently clobber a previous campaign's evidence.
func Open(dir string, autoResume bool) (*Store, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, traits.Custom(dir + " exists and is not a directory")
		}
		if !autoResume {
			return nil, traits.AutoResumeNotEnabled(dir)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, traits.IO("create output directory", mkErr)
		}
	default:
		return nil, traits.IO("stat output directory", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, reproducersDir), 0o755); err != nil {
		return nil, traits.IO("create reproducers directory", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) journalPath() string {
	return filepath.Join(s.Dir, journalName)
}

// LoadJournal reads the existing crash journal, returning an empty slice
// (not an error) if it doesn't exist yet.
func (s *Store) LoadJournal() ([]CrashRecord, error) {
	data, err := os.ReadFile(s.journalPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, traits.IO("read crash journal", err)
	}
	var records []CrashRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, traits.Serialize("decode crash journal", err)
	}
	return records, nil
}

// AppendCrash reads the existing journal (empty if absent), appends
// record, and rewrites the file. The rewrite goes through a temp file plus
// rename so a crash mid-write never leaves a half-written journal.
func (s *Store) AppendCrash(record CrashRecord) error {
	records, err := s.LoadJournal()
	if err != nil {
		return err
	}
	records = append(records, record)
	data, err := json.Marshal(records)
	if err != nil {
		return traits.Serialize("encode crash journal", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "crashes-*.json.tmp")
	if err != nil {
		return traits.IO("create temp journal file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return traits.IO("write temp journal file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return traits.IO("close temp journal file", err)
	}
	if err := os.Rename(tmpName, s.journalPath()); err != nil {
		os.Remove(tmpName)
		return traits.IO("replace crash journal", err)
	}
	return nil
}

// ReproducerPath returns where a triage-confirmed reproducer for buf would
// be (or is) stored: crashes/<lowercase hex sha1(buf)>.
func (s *Store) ReproducerPath(buf []byte) string {
	sum := sha1.Sum(buf)
	return filepath.Join(s.Dir, reproducersDir, hex.EncodeToString(sum[:]))
}

// WriteReproducer stores buf byte-exact at ReproducerPath(buf).
func (s *Store) WriteReproducer(buf []byte) (string, error) {
	path := s.ReproducerPath(buf)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", traits.IO("write reproducer", err)
	}
	return path, nil
}
