// Package nodes keeps the table of known nodes and their UDIDs.
package nodes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MaxNodes is the size of the node address space. Node 0 is the bus master.
const MaxNodes = 128

var (
	// ErrNotFound is returned when no node matches a lookup.
	ErrNotFound = errors.New("node does not exist")
	// ErrFull is returned when every address is taken.
	ErrFull = errors.New("maximum number of nodes has been reached")
)

// Attributes are free-form properties attached to a node in the node file.
type Attributes map[string]any

// Node describes a registered node.
type Node struct {
	ID         uint8      `json:"id"`
	UDID       UDID       `json:"udid"`
	LastSeen   time.Time  `json:"last_seen"`
	Attributes Attributes `json:"attributes"`
}

// entry is one value of the node file, keyed by UDID.
type entry struct {
	Node       uint8      `yaml:"node"`
	Attributes Attributes `yaml:"attributes,omitempty"`
}

// Registry maps node ids to nodes. It is safe for concurrent use.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	path  string
	nodes [MaxNodes]*Node
	udids map[UDID]uint8
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger, udids: make(map[UDID]uint8)}
}

// LoadFile reads the node file at path and remembers it for Save.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open node file %s: %w", path, err)
	}
	defer f.Close()

	if err := r.Load(f); err != nil {
		return fmt.Errorf("load node file %s: %w", path, err)
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return nil
}

// Load pre-registers the nodes listed in a YAML document of the form
// "udid: {node: id, attributes: {...}}". A node id that appears twice keeps
// its first UDID.
func (r *Registry) Load(src io.Reader) error {
	info := make(map[string]entry)
	if err := yaml.NewDecoder(src).Decode(&info); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode nodes: %w", err)
	}

	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		e := info[k]
		udid, err := ParseUDID(k)
		if err != nil {
			return err
		}
		if e.Node >= MaxNodes {
			return fmt.Errorf("node %d for %s: id out of range", e.Node, udid)
		}
		if r.nodes[e.Node] != nil {
			r.logger.Warn("node appears twice, second instance ignored",
				zap.Uint8("node", e.Node),
				zap.Stringer("udid", udid),
			)
			continue
		}
		r.nodes[e.Node] = &Node{ID: e.Node, UDID: udid, Attributes: e.Attributes}
		r.udids[udid] = e.Node
		r.logger.Debug("pre-registered node", zap.Stringer("udid", udid), zap.Uint8("node", e.Node))
	}
	return nil
}

// Save writes the registry back to the file it was loaded from. It is a no-op
// for registries without a file.
func (r *Registry) Save() error {
	r.mu.RLock()
	path := r.path
	info := make(map[string]entry, len(r.udids))
	for udid, id := range r.udids {
		info[udid.String()] = entry{Node: id, Attributes: r.nodes[id].Attributes}
	}
	r.mu.RUnlock()

	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write node file %s: %w", path, err)
	}
	return nil
}

// Register returns the id assigned to udid, allocating the lowest free id
// above 0 for UDIDs seen for the first time.
func (r *Registry) Register(udid UDID) (uint8, error) {
	r.mu.Lock()
	if id, ok := r.udids[udid]; ok {
		r.mu.Unlock()
		return id, nil
	}
	var id uint8
	for i := 1; i < MaxNodes; i++ {
		if r.nodes[i] == nil {
			id = uint8(i)
			break
		}
	}
	if id == 0 {
		r.mu.Unlock()
		return 0, ErrFull
	}
	r.nodes[id] = &Node{ID: id, UDID: udid}
	r.udids[udid] = id
	r.mu.Unlock()

	r.logger.Info("registered node", zap.Stringer("udid", udid), zap.Uint8("node", id))
	if err := r.Save(); err != nil {
		r.logger.Warn("failed to save node info", zap.Error(err))
	}
	return id, nil
}

// ByID returns a copy of the node with id.
func (r *Registry) ByID(id uint8) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= MaxNodes || r.nodes[id] == nil {
		return Node{}, false
	}
	return *r.nodes[id], true
}

// ByUDID returns a copy of the node registered under udid.
func (r *Registry) ByUDID(udid UDID) (Node, bool) {
	r.mu.RLock()
	id, ok := r.udids[udid]
	r.mu.RUnlock()
	if !ok {
		return Node{}, false
	}
	return r.ByID(id)
}

// Lookup resolves a node reference given either as a decimal id or as a UDID.
func (r *Registry) Lookup(ref string) (Node, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, ":") {
		udid, err := ParseUDID(ref)
		if err != nil {
			return Node{}, err
		}
		if n, ok := r.ByUDID(udid); ok {
			return n, nil
		}
		return Node{}, fmt.Errorf("%s: %w", udid, ErrNotFound)
	}

	id, err := strconv.ParseUint(ref, 10, 8)
	if err != nil {
		return Node{}, fmt.Errorf("node %q: %w", ref, ErrNotFound)
	}
	n, ok := r.ByID(uint8(id))
	if !ok {
		return Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// List returns copies of every node ordered by id.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.udids))
	for _, n := range r.nodes {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// Touch records that node id was heard from at t.
func (r *Registry) Touch(id uint8, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < MaxNodes && r.nodes[id] != nil {
		r.nodes[id].LastSeen = t
	}
}
