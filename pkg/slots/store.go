package slots

import (
	"fmt"
	"strconv"
	"sync"
)

// Provenance ranks how much a slot value can be trusted. Higher ranks
// are never overwritten by lower ones.
type Provenance int

const (
	ProvenanceInferred Provenance = iota
	ProvenanceConfirmed
	ProvenanceAPI
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceInferred:
		return "user-inferred"
	case ProvenanceConfirmed:
		return "user-confirmed"
	case ProvenanceAPI:
		return "api-derived"
	default:
		return "unknown"
	}
}

type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindEnum
)

type Value struct {
	Kind       Kind
	Str        string
	Num        float64
	Provenance Provenance
}

func String(s string, p Provenance) Value {
	return Value{Kind: KindString, Str: s, Provenance: p}
}

func Number(n float64, p Provenance) Value {
	return Value{Kind: KindNumber, Num: n, Provenance: p}
}

func Enum(s string, p Provenance) Value {
	return Value{Kind: KindEnum, Str: s, Provenance: p}
}

// Text renders the value as prompt-spliceable text.
func (v Value) Text() string {
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// DowngradeError reports a refused overwrite of a higher-provenance value.
type DowngradeError struct {
	Name string
	Have Provenance
	Got  Provenance
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("slot %q holds %s value, refusing %s overwrite", e.Name, e.Have, e.Got)
}

// Store holds the slots collected across one conversation. It is owned
// by a single session; the lock only guards read-only snapshots taken
// by the gateway's state inspection endpoint.
type Store struct {
	mu     sync.RWMutex
	values map[string]Value
}

func NewStore() *Store {
	return &Store{values: make(map[string]Value)}
}

// Set stores a value unless it would downgrade an existing value set by
// a higher-provenance source.
func (s *Store) Set(name string, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.values[name]; ok && cur.Provenance > v.Provenance {
		return &DowngradeError{Name: name, Have: cur.Provenance, Got: v.Provenance}
	}
	s.values[name] = v
	return nil
}

func (s *Store) Get(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *Store) All() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// IsSatisfied reports whether every named slot is set.
func (s *Store) IsSatisfied(names []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range names {
		if _, ok := s.values[n]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the named slots that are still unset, in the given order.
func (s *Store) Missing(names []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, n := range names {
		if _, ok := s.values[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot returns slot names mapped to rendered text for observability.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v.Text()
	}
	return out
}
