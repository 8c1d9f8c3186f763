package odbc

import "syscall"

func openLibrary(path string) (uintptr, error) {
	handle, err := syscall.LoadLibrary(path)
	return uintptr(handle), err
}

func closeLibrary(handle uintptr) {
	_ = syscall.FreeLibrary(syscall.Handle(handle))
}

func hasSymbol(handle uintptr, name string) bool {
	_, err := syscall.GetProcAddress(syscall.Handle(handle), name)
	return err == nil
}
