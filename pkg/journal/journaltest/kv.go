package journaltest

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"

    "github.com/amirimatin/go-raft-journal/pkg/journal"
)

// KVMaster is a simple in-memory key/value master used by tests and demos.
// Entries are JSON {op, key, value} mutations; snapshots are stable JSON for
// ease of debugging and comparison across peers.
type KVMaster struct {
    name string

    mu   sync.RWMutex
    data map[string]string
}

// Mutation is the payload format KVMaster journals and replays.
type Mutation struct {
    Op    string `json:"op"` // "put" or "delete"
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
}

func NewKVMaster(name string) *KVMaster {
    return &KVMaster{name: name, data: make(map[string]string)}
}

func (m *KVMaster) Name() string { return m.name }

func (m *KVMaster) ApplyEntry(payload []byte) error {
    var mut Mutation
    if err := json.Unmarshal(payload, &mut); err != nil {
        return err
    }
    return m.ApplyLocal(mut)
}

// ApplyLocal mutates in-memory state directly. On the primary this runs
// before journaling; on standbys it runs from replay via ApplyEntry.
func (m *KVMaster) ApplyLocal(mut Mutation) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    switch mut.Op {
    case "put":
        if mut.Key == "" { return fmt.Errorf("journaltest: empty key") }
        m.data[mut.Key] = mut.Value
    case "delete":
        delete(m.data, mut.Key)
    default:
        return fmt.Errorf("journaltest: unknown op %q", mut.Op)
    }
    return nil
}

// Get returns the value stored under key.
func (m *KVMaster) Get(key string) (string, bool) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    v, ok := m.data[key]
    return v, ok
}

// Len returns the number of stored keys.
func (m *KVMaster) Len() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return len(m.data)
}

type kvPair struct {
    Key   string `json:"key"`
    Value string `json:"value"`
}

func (m *KVMaster) Snapshot() ([]byte, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    arr := make([]kvPair, 0, len(m.data))
    for k, v := range m.data {
        arr = append(arr, kvPair{Key: k, Value: v})
    }
    sort.Slice(arr, func(i, j int) bool { return arr[i].Key < arr[j].Key })
    return json.Marshal(struct {
        Version int      `json:"version"`
        Pairs   []kvPair `json:"pairs"`
    }{Version: 1, Pairs: arr})
}

func (m *KVMaster) Restore(buf []byte) error {
    var snapshot struct {
        Version int      `json:"version"`
        Pairs   []kvPair `json:"pairs"`
    }
    if err := json.Unmarshal(buf, &snapshot); err != nil {
        return err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    m.data = make(map[string]string, len(snapshot.Pairs))
    for _, p := range snapshot.Pairs {
        m.data[p.Key] = p.Value
    }
    return nil
}

// Ensure interface satisfaction at compile-time.
var _ journal.Master = (*KVMaster)(nil)
