// Package plugin loads dynamic libraries at runtime and invokes a narrow C
// ABI in them without cgo, via github.com/ebitengine/purego.
//
// A plugin library exports two symbols:
//
//	char *LabrigPluginCall(const char *request, int requestLen, int *responseLen)
//	void  LabrigPluginFree(char *response)
//
// LabrigPluginCall receives the raw request bytes and returns a
// malloc'd response buffer plus its length via the out-param; the caller
// must release it with LabrigPluginFree once it has copied the bytes out.
package plugin

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRegistered is returned when a plugin identifier is loaded
	// twice; the registry has set semantics, not last-write-wins.
	ErrAlreadyRegistered = errors.New("plugin: identifier already registered")
	// ErrNotFound is returned by Call for an unknown identifier.
	ErrNotFound = errors.New("plugin: no such identifier")
)

type callFunc func(req unsafe.Pointer, reqLen int32, outLen unsafe.Pointer) uintptr
type freeFunc func(ptr uintptr)

// plugin is one loaded dynamic library and its bound ABI functions.
type plugin struct {
	path   string
	handle uintptr
	call   callFunc
	free   freeFunc
}

// Registry holds every loaded plugin, keyed by the identifier it was
// registered under. Plugins are loaded once at startup and closed only at
// shutdown: there is no hot-reload or per-call load/unload.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*plugin
	logger  *zap.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]*plugin),
		logger:  logger.Named("plugin"),
	}
}

// Load opens the dynamic library at libPath and registers it under
// identifier. It is an error to register the same identifier twice; the
// caller must Close the registry and rebuild it to change a binding.
func (r *Registry) Load(identifier, libPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[identifier]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, identifier)
	}

	handle, err := openLibrary(libPath)
	if err != nil {
		return fmt.Errorf("plugin: failed to open %q: %w", libPath, err)
	}

	var callFn callFunc
	purego.RegisterLibFunc(&callFn, handle, "LabrigPluginCall")
	var freeFn freeFunc
	purego.RegisterLibFunc(&freeFn, handle, "LabrigPluginFree")

	r.plugins[identifier] = &plugin{
		path:   libPath,
		handle: handle,
		call:   callFn,
		free:   freeFn,
	}
	r.logger.Info("plugin loaded", zap.String("identifier", identifier), zap.String("path", libPath))
	return nil
}

// Call invokes the plugin registered under identifier with request,
// returning its response bytes. A panic crossing the FFI boundary (e.g. a
// malformed library corrupting the stack) is recovered and surfaced as an
// error so one bad plugin cannot take down the whole agent.
func (r *Registry) Call(identifier string, request []byte) (response []byte, err error) {
	r.mu.RLock()
	p, ok := r.plugins[identifier]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, identifier)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin: %q panicked: %v", identifier, rec)
		}
	}()

	var reqPtr unsafe.Pointer
	if len(request) > 0 {
		reqPtr = unsafe.Pointer(&request[0])
	}

	var outLen int32
	respPtr := p.call(reqPtr, int32(len(request)), unsafe.Pointer(&outLen))
	if respPtr == 0 {
		return nil, fmt.Errorf("plugin: %q returned a null response", identifier)
	}
	defer p.free(respPtr)

	if outLen == 0 {
		return []byte{}, nil
	}
	response = make([]byte, outLen)
	copy(response, unsafe.Slice((*byte)(unsafe.Pointer(respPtr)), outLen))
	return response, nil
}

// Identifiers returns every registered plugin identifier, in no particular
// order.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every loaded library. It is called once, at agent
// shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, p := range r.plugins {
		if err := closeLibrary(p.handle); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("plugin: failed to close %q: %w", id, err)
		}
	}
	r.plugins = make(map[string]*plugin)
	return firstErr
}
