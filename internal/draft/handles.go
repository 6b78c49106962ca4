package draft

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"draftcell/internal/models"
)

// DefaultHandlePrefix is used when handles are not served over HTTP.
const DefaultHandlePrefix = "blob:draftcell/"

// HandleTable maps transient image handles to local image keys. Handles live
// only as long as the table; each key gets one handle per table.
type HandleTable struct {
	mu       sync.Mutex
	prefix   string
	byHandle map[string]models.LocalImageKey
	byKey    map[models.LocalImageKey]string
}

// NewHandleTable returns an empty table whose handles start with prefix.
func NewHandleTable(prefix string) *HandleTable {
	if prefix == "" {
		prefix = DefaultHandlePrefix
	}
	return &HandleTable{
		prefix:   prefix,
		byHandle: make(map[string]models.LocalImageKey),
		byKey:    make(map[models.LocalImageKey]string),
	}
}

// Prefix returns the handle prefix.
func (t *HandleTable) Prefix() string {
	return t.prefix
}

// Issue returns the handle for key, minting one on first use.
func (t *HandleTable) Issue(key models.LocalImageKey) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle, ok := t.byKey[key]; ok {
		return handle
	}
	handle := t.prefix + uuid.NewString()
	t.byHandle[handle] = key
	t.byKey[key] = handle
	return handle
}

// Resolve returns the key behind handle. A bare id without the prefix is
// accepted too.
func (t *HandleTable) Resolve(handle string) (models.LocalImageKey, bool) {
	if !strings.HasPrefix(handle, t.prefix) {
		handle = t.prefix + handle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.byHandle[handle]
	return key, ok
}
