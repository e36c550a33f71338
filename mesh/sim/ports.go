package sim

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

type PortOptions struct {
	Range  [2]uint16 // [start, end)
	Rand   func() uint16
	MaxTry uint
}

// DefaultPortOptions uses the IANA dynamic port range.
func DefaultPortOptions() PortOptions {
	return PortOptions{
		Range:  [2]uint16{49152, 65535},
		Rand:   func() uint16 { return uint16(rand.Uint32()) },
		MaxTry: 32,
	}
}

func (o PortOptions) validate() error {
	if o.Range[0] >= o.Range[1] {
		return errors.Errorf("end(%d) must be greater than start(%d)", o.Range[1], o.Range[0])
	}
	if o.Rand == nil {
		return errors.New("rand function must be provided")
	}
	return nil
}

type portTable struct {
	mu    sync.Mutex
	table map[uint16]struct{}

	opts PortOptions
}

func newPortTable(opts PortOptions) (*portTable, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &portTable{table: make(map[uint16]struct{}), opts: opts}, nil
}

// occupy binds port, or an ephemeral port if it is zero.
func (p *portTable) occupy(port uint16) (uint16, func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port != 0 {
		release, ok := p.occupyLocked(port)
		return port, release, ok
	}

	for try := uint(0); try < p.opts.MaxTry; try++ {
		candidate := p.opts.Range[0] + p.opts.Rand()%(p.opts.Range[1]-p.opts.Range[0])
		if release, ok := p.occupyLocked(candidate); ok {
			return candidate, release, true
		}
	}

	return 0, nil, false
}

func (p *portTable) occupyLocked(port uint16) (func(), bool) {
	if _, found := p.table[port]; found {
		return nil, false
	}
	p.table[port] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.table, port)
		})
	}, true
}
