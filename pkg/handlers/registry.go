package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/graphworks/spanners/pkg/protocol"
)

// InvokeFunc runs one algorithm against one decoded job request
type InvokeFunc func(req *Request) (*Response, error)

// Descriptor describes a registered algorithm handler. The worker process
// resolves descriptors by name; no dynamic code loading happens anywhere.
type Descriptor struct {
	Name           string
	RequiredFields []string
	ResultShape    string
	Invoke         InvokeFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Descriptor)
	frozen     bool
)

// Register adds a handler to the process-wide registry. It must run before
// Freeze; duplicate names and post-freeze registration are programming
// errors and panic.
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if frozen {
		panic(fmt.Sprintf("handlers: Register(%q) after Freeze", d.Name))
	}
	if _, ok := registry[d.Name]; ok {
		panic(fmt.Sprintf("handlers: duplicate handler %q", d.Name))
	}
	registry[d.Name] = d
}

// Freeze marks the registry write-once complete. Called before the client
// listener starts accepting.
func Freeze() {
	registryMu.Lock()
	defer registryMu.Unlock()
	frozen = true
}

// Get resolves a handler descriptor by name
func Get(name string) (Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// List returns all registered handlers sorted by name
func List() []Descriptor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	descriptors := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		descriptors = append(descriptors, d)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}

// Capabilities returns the client-visible handler list
func Capabilities() []protocol.HandlerInfo {
	descriptors := List()
	infos := make([]protocol.HandlerInfo, 0, len(descriptors))
	for _, d := range descriptors {
		infos = append(infos, protocol.HandlerInfo{
			Name:           d.Name,
			RequiredFields: d.RequiredFields,
			ResultShape:    d.ResultShape,
		})
	}
	return infos
}
