//go:build darwin || freebsd || linux

package odbc

import "github.com/ebitengine/purego"

func openLibrary(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func closeLibrary(handle uintptr) {
	_ = purego.Dlclose(handle)
}

func hasSymbol(handle uintptr, name string) bool {
	_, err := purego.Dlsym(handle, name)
	return err == nil
}
