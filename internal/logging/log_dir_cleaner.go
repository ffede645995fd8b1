// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanInterval = time.Minute

var (
	cleanerStop chan struct{}
	cleanerWG   sync.WaitGroup
)

// configureLogDirCleanerLocked (re)starts the cleaner goroutine. Callers hold writerMu.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, protectedPath string) {
	stopLogDirCleanerLocked()
	if maxTotalSizeMB <= 0 {
		return
	}
	maxBytes := int64(maxTotalSizeMB) * 1024 * 1024
	stop := make(chan struct{})
	cleanerStop = stop

	cleanerWG.Add(1)
	go func() {
		defer cleanerWG.Done()
		ticker := time.NewTicker(logDirCleanInterval)
		defer ticker.Stop()
		for {
			if removed, err := CleanLogDir(logDir, maxBytes, protectedPath); err != nil {
				log.Debugf("logging: clean %s: %v", logDir, err)
			} else if removed > 0 {
				log.Debugf("logging: removed %d old log files from %s", removed, logDir)
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if cleanerStop == nil {
		return
	}
	close(cleanerStop)
	cleanerStop = nil
	cleanerWG.Wait()
}

// CleanLogDir deletes the oldest *.log files in dir until their total size is at most
// maxBytes. The file at protectedPath is never removed. It returns the number of
// files deleted.
func CleanLogDir(dir string, maxBytes int64, protectedPath string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type logFile struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []logFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		files = append(files, logFile{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if protectedPath != "" && filepath.Clean(f.path) == filepath.Clean(protectedPath) {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.Debugf("logging: remove %s: %v", f.path, errRemove)
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}
