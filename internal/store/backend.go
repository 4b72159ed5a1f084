package store

// Key identifies one stored row within a layer: a group and an optional
// name. An empty name denotes the group row itself.
type Key struct {
	Group string
	Name  string
}

// Backend is the per-layer storage engine the façade drives. It knows
// nothing about privileges, layer precedence, or group invariants —
// those are enforced by the façade in facade.go.
type Backend interface {
	Open() error
	CreateDB() error
	Get(k Key) (raw []byte, found bool, err error)
	Set(k Key, raw []byte) error
	Unset(k Key) error
	ListKeys() ([]Key, error)
	ListNames(group, prefix string) ([]string, error)
	Close() error
}
