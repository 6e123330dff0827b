package strategy

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
)

const defaultVirtualNodes = 100

type consistentHashStrategy struct {
	virtualNodes int
	ring         atomic.Pointer[ringSnapshot]
	mutex        sync.Mutex
}

type ringSnapshot struct {
	signature string
	positions []uint32
	owners    map[uint32]*backend.Backend
}

func NewConsistentHashStrategy(virtualNodes int) KeyedStrategy {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}

	return &consistentHashStrategy{virtualNodes: virtualNodes}
}

func signature(backends []*backend.Backend) string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	sort.Strings(names)
	return strings.Join(names, "\x00")
}

func buildRing(backends []*backend.Backend, vnodes int, sig string) *ringSnapshot {
	rs := &ringSnapshot{
		signature: sig,
		positions: make([]uint32, 0, len(backends)*vnodes),
		owners:    make(map[uint32]*backend.Backend, len(backends)*vnodes),
	}

	for _, b := range backends {
		for i := 0; i < vnodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(b.Name() + "#" + strconv.Itoa(i)))
			rs.positions = append(rs.positions, hash)
			rs.owners[hash] = b
		}
	}

	sort.Slice(rs.positions, func(i, j int) bool { return rs.positions[i] < rs.positions[j] })
	return rs
}

func (r *ringSnapshot) lookup(hash uint32) *backend.Backend {
	if len(r.positions) == 0 {
		return nil
	}

	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= hash
	})
	if idx == len(r.positions) {
		idx = 0
	}

	return r.owners[r.positions[idx]]
}

// ringFor returns the cached ring when the candidate set is unchanged and
// rebuilds it otherwise.
func (s *consistentHashStrategy) ringFor(backends []*backend.Backend) *ringSnapshot {
	sig := signature(backends)
	if rs := s.ring.Load(); rs != nil && rs.signature == sig {
		return rs
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if rs := s.ring.Load(); rs != nil && rs.signature == sig {
		return rs
	}

	rs := buildRing(backends, s.virtualNodes, sig)
	s.ring.Store(rs)
	return rs
}

func (s *consistentHashStrategy) SelectBackendForKey(backends []*backend.Backend, key string) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	return s.ringFor(backends).lookup(crc32.ChecksumIEEE([]byte(key)))
}

// SelectBackend hashes the empty key.
func (s *consistentHashStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	return s.SelectBackendForKey(backends, "")
}
