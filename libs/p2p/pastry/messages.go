package pastry

import (
	"fmt"

	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// Kind tags a wire message.
type Kind byte

const (
	KindPing Kind = iota + 1
	KindJoinReq
	KindJoinResp
	KindLeafSetReq
	KindLeafSetChanged
	KindRoutingTableReq
	KindRoutingTableResp
	KindRoute
	KindLookupResp
	KindRoutingNeighborAnnounce
)

var kindNames = map[Kind]string{
	KindPing:                    "Ping",
	KindJoinReq:                 "JoinReq",
	KindJoinResp:                "JoinResp",
	KindLeafSetReq:              "LeafSetReq",
	KindLeafSetChanged:          "LeafSetChanged",
	KindRoutingTableReq:         "RoutingTableReq",
	KindRoutingTableResp:        "RoutingTableResp",
	KindRoute:                   "Route",
	KindLookupResp:              "LookupResp",
	KindRoutingNeighborAnnounce: "RoutingNeighborAnnounce",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Message is one of the wire messages below.
type Message interface {
	Kind() Kind
}

// maxRoutingTableResp bounds the neighbors in one RoutingTableResp: a full
// level of the widest digit base, less the local node's own cell.
const maxRoutingTableResp = guid.MaxDigitValues - 1

type (
	Ping struct{}

	JoinReq struct {
		NodeAddr Addr
		ID       guid.ID
		RevTTL   int
		Path     []NeighborInfo
	}

	JoinResp struct {
		Path    []NeighborInfo
		LeafSet []NeighborInfo
	}

	LeafSetReq struct{}

	LeafSetChanged struct {
		ID        guid.ID
		LeafSet   []NeighborInfo
		WantReply bool
	}

	RoutingTableReq struct {
		ID    guid.ID
		Level int
	}

	RoutingTableResp struct {
		PeerID    guid.ID
		Neighbors []NeighborInfo
	}

	RouteMsg struct {
		Src          guid.ID
		Dest         guid.ID
		App          uint64
		Intermediate bool
		PeerID       guid.ID
		Payload      []byte
	}

	LookupResp struct {
		LookupID guid.ID
		OwnerID  guid.ID
	}

	RoutingNeighborAnnounce struct {
		ID  guid.ID
		Add bool
	}
)

func (*Ping) Kind() Kind                    { return KindPing }
func (*JoinReq) Kind() Kind                 { return KindJoinReq }
func (*JoinResp) Kind() Kind                { return KindJoinResp }
func (*LeafSetReq) Kind() Kind              { return KindLeafSetReq }
func (*LeafSetChanged) Kind() Kind          { return KindLeafSetChanged }
func (*RoutingTableReq) Kind() Kind         { return KindRoutingTableReq }
func (*RoutingTableResp) Kind() Kind        { return KindRoutingTableResp }
func (*RouteMsg) Kind() Kind                { return KindRoute }
func (*LookupResp) Kind() Kind              { return KindLookupResp }
func (*RoutingNeighborAnnounce) Kind() Kind { return KindRoutingNeighborAnnounce }

// isResponse reports whether a message answers an earlier request.
func isResponse(m Message) bool {
	switch m.(type) {
	case *JoinResp, *RoutingTableResp, *LookupResp:
		return true
	}
	return false
}

// clone copies the message so it can be changed before forwarding.
func (req *JoinReq) clone() *JoinReq {
	c := *req
	c.Path = append([]NeighborInfo(nil), req.Path...)
	return &c
}

// Packet is what travels between two transports: the header fields plus
// one message.
type Packet struct {
	To       Addr
	From     Addr
	Response bool
	Msg      Message
}

// NewPacket wraps msg for sending from one transport to another.
func NewPacket(to, from Addr, msg Message) *Packet {
	return &Packet{To: to, From: from, Response: isResponse(msg), Msg: msg}
}

// lookupReq is the payload of a RouteMsg for the reserved lookup
// application.
type lookupReq struct {
	ReturnAddr Addr
}

// lookupApp is the application id reserved for internal lookups.
const lookupApp uint64 = 0
