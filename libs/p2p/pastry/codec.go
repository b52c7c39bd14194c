package pastry

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	varint "github.com/multiformats/go-varint"
	"github.com/pkg/errors"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// Packet layout:
//
//	kind (1) | flags (1) | to | from | body
//
// The body is snappy-compressed when flagCompressed is set. Strings and
// guids are uvarint length prefixed, guids in minimal big-endian form.
const (
	flagResponse   = 0x01
	flagCompressed = 0x02

	compressThreshold = 256
	maxPacketSize     = 64 * 1024
	maxListLen        = 256
	maxAddrLen        = 255
)

var (
	errPacketTooSmall = errors.New("packet too small")
	errPacketTooBig   = errors.New("packet too big")
	errBadKind        = errors.New("unknown message kind")
	errListTooLong    = errors.New("list too long")
	errTrailingBytes  = errors.New("trailing bytes after message")
)

// EncodePacket serializes p.
func EncodePacket(p *Packet) ([]byte, error) {
	var body bytes.Buffer
	w := &writer{&body}
	switch m := p.Msg.(type) {
	case *Ping, *LeafSetReq:
	case *JoinReq:
		w.addr(m.NodeAddr)
		w.guid(m.ID)
		w.uint(uint64(m.RevTTL))
		w.neighbors(m.Path)
	case *JoinResp:
		w.neighbors(m.Path)
		w.neighbors(m.LeafSet)
	case *LeafSetChanged:
		w.guid(m.ID)
		w.neighbors(m.LeafSet)
		w.bool(m.WantReply)
	case *RoutingTableReq:
		w.guid(m.ID)
		w.uint(uint64(m.Level))
	case *RoutingTableResp:
		if len(m.Neighbors) > maxRoutingTableResp {
			return nil, errors.Wrapf(errListTooLong, "routing table response with %d neighbors", len(m.Neighbors))
		}
		w.guid(m.PeerID)
		w.neighbors(m.Neighbors)
	case *RouteMsg:
		w.guid(m.Src)
		w.guid(m.Dest)
		w.uint(m.App)
		w.bool(m.Intermediate)
		w.guid(m.PeerID)
		w.bytes(m.Payload)
	case *LookupResp:
		w.guid(m.LookupID)
		w.guid(m.OwnerID)
	case *RoutingNeighborAnnounce:
		w.guid(m.ID)
		w.bool(m.Add)
	default:
		return nil, errors.Wrapf(errBadKind, "%T", p.Msg)
	}

	var flags byte
	if p.Response {
		flags |= flagResponse
	}
	payload := body.Bytes()
	if len(payload) > compressThreshold {
		payload = snappy.Encode(nil, payload)
		flags |= flagCompressed
	}

	var out bytes.Buffer
	out.WriteByte(byte(p.Msg.Kind()))
	out.WriteByte(flags)
	hw := &writer{&out}
	hw.addr(p.To)
	hw.addr(p.From)
	out.Write(payload)
	if out.Len() > maxPacketSize {
		return nil, errPacketTooBig
	}
	return out.Bytes(), nil
}

// DecodePacket parses a packet produced by EncodePacket.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < 4 {
		return nil, errPacketTooSmall
	}
	if len(b) > maxPacketSize {
		return nil, errPacketTooBig
	}
	kind, flags := Kind(b[0]), b[1]
	hr := &reader{r: bytes.NewReader(b[2:])}
	p := &Packet{To: hr.addr(), From: hr.addr(), Response: flags&flagResponse != 0}
	if hr.err != nil {
		return nil, errors.Wrap(hr.err, "decode header")
	}
	rest := b[len(b)-hr.r.Len():]
	if flags&flagCompressed != 0 {
		n, err := snappy.DecodedLen(rest)
		if err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
		if n > maxPacketSize {
			return nil, errors.Wrapf(errPacketTooBig, "decompressed length %d", n)
		}
		if rest, err = snappy.Decode(nil, rest); err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
	}

	r := &reader{r: bytes.NewReader(rest)}
	switch kind {
	case KindPing:
		p.Msg = &Ping{}
	case KindLeafSetReq:
		p.Msg = &LeafSetReq{}
	case KindJoinReq:
		p.Msg = &JoinReq{NodeAddr: r.addr(), ID: r.guid(), RevTTL: int(r.uint()), Path: r.neighbors(maxListLen)}
	case KindJoinResp:
		p.Msg = &JoinResp{Path: r.neighbors(maxListLen), LeafSet: r.neighbors(maxListLen)}
	case KindLeafSetChanged:
		p.Msg = &LeafSetChanged{ID: r.guid(), LeafSet: r.neighbors(maxListLen), WantReply: r.bool()}
	case KindRoutingTableReq:
		p.Msg = &RoutingTableReq{ID: r.guid(), Level: int(r.uint())}
	case KindRoutingTableResp:
		p.Msg = &RoutingTableResp{PeerID: r.guid(), Neighbors: r.neighbors(maxRoutingTableResp)}
	case KindRoute:
		p.Msg = &RouteMsg{Src: r.guid(), Dest: r.guid(), App: r.uint(), Intermediate: r.bool(), PeerID: r.guid(), Payload: r.bytes()}
	case KindLookupResp:
		p.Msg = &LookupResp{LookupID: r.guid(), OwnerID: r.guid()}
	case KindRoutingNeighborAnnounce:
		p.Msg = &RoutingNeighborAnnounce{ID: r.guid(), Add: r.bool()}
	default:
		return nil, errors.Wrapf(errBadKind, "kind %d", kind)
	}
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode %v", kind)
	}
	if r.r.Len() != 0 {
		return nil, errors.Wrapf(errTrailingBytes, "decode %v", kind)
	}
	return p, nil
}

func encodeLookupReq(req lookupReq) []byte {
	var buf bytes.Buffer
	(&writer{&buf}).addr(req.ReturnAddr)
	return buf.Bytes()
}

func decodeLookupReq(b []byte) (lookupReq, error) {
	r := &reader{r: bytes.NewReader(b)}
	req := lookupReq{ReturnAddr: r.addr()}
	if r.err == nil && r.r.Len() != 0 {
		r.err = errTrailingBytes
	}
	return req, r.err
}

type writer struct {
	buf *bytes.Buffer
}

func (w *writer) uint(v uint64) { w.buf.Write(varint.ToUvarint(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) bytes(b []byte) {
	w.uint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *writer) addr(a Addr)     { w.bytes([]byte(a)) }
func (w *writer) guid(id guid.ID) { w.bytes(id.Bytes()) }

func (w *writer) neighbors(ns []NeighborInfo) {
	w.uint(uint64(len(ns)))
	for _, n := range ns {
		w.addr(n.Addr)
		w.guid(n.ID)
	}
}

// reader records the first error and returns zero values afterwards.
type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) uint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := varint.ReadUvarint(r.r)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *reader) bool() bool {
	if r.err != nil {
		return false
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return false
	}
	return b != 0
}

func (r *reader) bytesN(max int) []byte {
	n := r.uint()
	if r.err != nil {
		return nil
	}
	if n > uint64(max) || n > uint64(r.r.Len()) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := make([]byte, n)
	r.r.Read(b)
	return b
}

func (r *reader) bytes() []byte { return r.bytesN(maxPacketSize) }

func (r *reader) addr() Addr { return Addr(r.bytesN(maxAddrLen)) }

func (r *reader) guid() guid.ID {
	b := r.bytesN(guid.Size + 1)
	if r.err != nil {
		return guid.ID{}
	}
	id, err := guid.FromBytes(b)
	if err != nil {
		r.err = err
	}
	return id
}

func (r *reader) neighbors(max int) []NeighborInfo {
	n := r.uint()
	if r.err != nil {
		return nil
	}
	if n > uint64(max) {
		r.err = errListTooLong
		return nil
	}
	var out []NeighborInfo
	for i := uint64(0); i < n && r.err == nil; i++ {
		out = append(out, NeighborInfo{Addr: r.addr(), ID: r.guid()})
	}
	return out
}
