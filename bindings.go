package odbc

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
)

// LibraryConfig selects the ODBC driver manager library loaded at runtime.
type LibraryConfig struct {
	// Path to the shared library; takes precedence over everything else
	Path string
	// Extra candidates tried after Path and $ODBC_LIB_PATH, before platform defaults
	SearchPaths []string
	// SkipDefaults restricts loading to Path and SearchPaths
	SkipDefaults bool
}

var (
	libMu     sync.Mutex
	libLoaded bool
	libPath   string
)

// InitLibrary loads the ODBC driver manager and registers its entry points.
// It is safe to call multiple times: once a library is loaded, later calls are no-ops.
func InitLibrary(config LibraryConfig) error {
	libMu.Lock()
	defer libMu.Unlock()
	if libLoaded {
		return nil
	}
	handle, path, err := loadLibrary(config)
	if err != nil {
		return err
	}
	if err := register_odbc(handle); err != nil {
		return err
	}
	libLoaded = true
	libPath = path
	return nil
}

// LibraryPath returns the path of the loaded driver manager, or "" if none is loaded.
func LibraryPath() string {
	libMu.Lock()
	defer libMu.Unlock()
	return libPath
}

// libraryCandidates lists library paths in the order they are tried.
func libraryCandidates(config LibraryConfig) []string {
	var candidates []string
	if config.Path != "" {
		candidates = append(candidates, config.Path)
	}
	if config.SkipDefaults {
		return append(candidates, config.SearchPaths...)
	}
	if p := os.Getenv("ODBC_LIB_PATH"); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, config.SearchPaths...)
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"libodbc.2.dylib",
			"libodbc.dylib",
			"/opt/homebrew/lib/libodbc.2.dylib",
			"/usr/local/lib/libodbc.2.dylib",
		)
	case "windows":
		candidates = append(candidates, "odbc32.dll")
	default:
		candidates = append(candidates, "libodbc.so.2", "libodbc.so")
	}
	return candidates
}

func loadLibrary(config LibraryConfig) (uintptr, string, error) {
	candidates := libraryCandidates(config)
	var errs []error
	for _, path := range candidates {
		handle, err := openLibrary(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		// a loadable library which is not a driver manager is skipped, not registered
		if name, missing := missing_odbc_symbol(handle); missing {
			errs = append(errs, fmt.Errorf("%s: missing symbol %s", path, name))
			closeLibrary(handle)
			continue
		}
		return handle, path, nil
	}
	return 0, "", fmt.Errorf("%w (tried %s): %w",
		ErrLibraryNotLoaded, strings.Join(candidates, ", "), errors.Join(errs...))
}
