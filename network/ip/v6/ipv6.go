package ipv6

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Addr is a 128-bit IPv6 address in network byte order.
type Addr [16]byte

var Unspecified = Addr{}

// ParseAddr parses the textual representation of an IPv6 address
// (RFC 4291 section 2.2), including "::" compression and an embedded
// dotted-quad IPv4 suffix. Zones are not accepted.
func ParseAddr(s string) (Addr, error) {
	if s == "" {
		return Addr{}, errors.New("empty address")
	}
	if strings.ContainsRune(s, '%') {
		return Addr{}, errors.Errorf("zoned address %q is not supported", s)
	}

	before, after, compressed := strings.Cut(s, "::")
	if compressed && strings.Contains(after, "::") {
		return Addr{}, errors.New("'::' used more than once")
	}

	head, err := parseGroups(before, !compressed)
	if err != nil {
		return Addr{}, errors.Wrap(err, "parsing groups before '::'")
	}

	var tail []uint16
	if compressed {
		if tail, err = parseGroups(after, true); err != nil {
			return Addr{}, errors.Wrap(err, "parsing groups after '::'")
		}
	}

	var addr Addr
	switch n := len(head) + len(tail); {
	case !compressed && n != 8:
		return Addr{}, errors.Errorf("address has %d groups, want 8", n)
	case compressed && n > 7:
		return Addr{}, errors.New("'::' must stand for at least one group")
	}

	for i, g := range head {
		addr.setGroup(i, g)
	}
	for i, g := range tail {
		addr.setGroup(8-len(tail)+i, g)
	}

	return addr, nil
}

// MustParseAddr is like ParseAddr but panics on error.
func MustParseAddr(s string) Addr {
	addr, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddrFromSlice converts a 16-byte slice. ok is false for any other length.
func AddrFromSlice(b []byte) (addr Addr, ok bool) {
	if len(b) != len(addr) {
		return Addr{}, false
	}
	copy(addr[:], b)
	return addr, true
}

func parseGroups(s string, last bool) ([]uint16, error) {
	if s == "" {
		return nil, nil
	}

	fields := strings.Split(s, ":")
	groups := make([]uint16, 0, len(fields)+1)

	for idx, field := range fields {
		if field == "" {
			return nil, errors.New("invalid use of colon separator")
		}

		if strings.ContainsRune(field, '.') {
			if !last || idx != len(fields)-1 {
				return nil, errors.New("embedded ipv4 address must be the last part")
			}
			hi, lo, err := parseDottedQuad(field)
			if err != nil {
				return nil, errors.Wrap(err, "parsing embedded ipv4 address")
			}
			groups = append(groups, hi, lo)
			continue
		}

		if len(field) > 4 {
			return nil, errors.Errorf("group %q is longer than 4 hex digits", field)
		}
		n, err := strconv.ParseUint(field, 16, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing group %q", field)
		}
		groups = append(groups, uint16(n))
	}

	return groups, nil
}

func parseDottedQuad(s string) (hi, lo uint16, err error) {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return 0, 0, errors.New("octets are not properly separated")
	}

	var b [4]byte
	for idx, octet := range octets {
		n, err := strconv.ParseUint(octet, 10, 8)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "parsing octet %q", octet)
		}
		if octet[0] == '0' && len(octet) > 1 {
			return 0, 0, errors.New("leading zero is not allowed in octet")
		}
		b[idx] = byte(n)
	}

	return uint16(b[0])<<8 | uint16(b[1]), uint16(b[2])<<8 | uint16(b[3]), nil
}

// Group returns the i-th 16-bit group, 0 being the most significant.
func (a Addr) Group(i int) uint16 {
	return uint16(a[i*2])<<8 | uint16(a[i*2+1])
}

func (a *Addr) setGroup(i int, v uint16) {
	a[i*2] = byte(v >> 8)
	a[i*2+1] = byte(v)
}

func (a Addr) Raw() []byte { return a[:] }

func (a Addr) IsUnspecified() bool { return a == Unspecified }

func (a Addr) IsMulticast() bool { return a[0] == 0xff }

func (a Addr) IsLoopback() bool {
	return a == Addr{15: 1}
}

// String formats the address as recommended by RFC 5952: lower-case hex,
// no leading zeros, and the longest run of two or more zero groups
// replaced by "::" (the first one on a tie).
func (a Addr) String() string {
	start, length := -1, 0
	for i := 0; i < 8; {
		if a.Group(i) != 0 {
			i++
			continue
		}
		j := i
		for j < 8 && a.Group(j) == 0 {
			j++
		}
		if j-i > length {
			start, length = i, j-i
		}
		i = j
	}
	if length < 2 {
		start = -1
	}

	var sb strings.Builder
	for i := 0; i < 8; i++ {
		if i == start {
			sb.WriteString("::")
			i += length - 1
			continue
		}
		if i > 0 && i != start+length {
			sb.WriteByte(':')
		}
		sb.WriteString(strconv.FormatUint(uint64(a.Group(i)), 16))
	}

	return sb.String()
}
