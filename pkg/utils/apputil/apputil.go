// Package apputil provides file and directory helpers used by configuration
// loading.
package apputil

import (
	"os"
	"path/filepath"

	"relaypool.dev/pkg/utils/chk"
)

// EnsureDir creates the parent directories of fileName if they do not exist
// yet.
func EnsureDir(fileName string) (err error) {
	dirName := filepath.Dir(fileName)
	if _, e := os.Stat(dirName); chk.T(e) {
		if err = os.MkdirAll(dirName, os.ModePerm); chk.E(err) {
			return
		}
	}
	return
}

// FileExists reports whether the named file or directory exists and is
// accessible.
func FileExists(filePath string) bool {
	_, e := os.Stat(filePath)
	return e == nil
}
