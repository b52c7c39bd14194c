package pastry

import (
	"bytes"
	"encoding/binary"
	"sort"
	"time"

	dbm "github.com/lianxiangcloud/ringroute/libs/db"
	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// Keys in the node database.
const (
	// Fields are stored per guid, the full key is "n:<guid>:<field>".
	// Use nodeItemKey to create those keys.
	dbNodePrefix = "n:"
	dbNodeAddr   = "addr"
	dbNodePong   = "lastpong"
)

const (
	nodeDBExpiration   = 24 * time.Hour // Time after which an unseen node should be dropped.
	nodeDBCleanupCycle = time.Hour      // Time period for running the expiration task.
)

// NodeDB remembers neighbors that answered us, so that a restarted node
// can find its old ring even when every gateway is gone.
type NodeDB struct {
	db     dbm.DB
	logger log.Logger
}

// NewNodeDB wraps db. The caller keeps ownership of db.
func NewNodeDB(db dbm.DB, logger log.Logger) *NodeDB {
	return &NodeDB{db: db, logger: logger}
}

// nodeKey returns the database key prefix for a node.
func nodeKey(id guid.ID) []byte {
	return append([]byte(dbNodePrefix), id[:]...)
}

// nodeItemKey returns the database key for a node metadata field.
func nodeItemKey(id guid.ID, field string) []byte {
	return bytes.Join([][]byte{nodeKey(id), []byte(field)}, []byte{':'})
}

// splitNodeItemKey returns the components of a key created by nodeItemKey.
func splitNodeItemKey(key []byte) (id guid.ID, field string, ok bool) {
	if !bytes.HasPrefix(key, []byte(dbNodePrefix)) {
		return id, "", false
	}
	item := key[len(dbNodePrefix):]
	if len(item) < guid.Size+1 || item[guid.Size] != ':' {
		return id, "", false
	}
	copy(id[:], item[:guid.Size])
	return id, string(item[guid.Size+1:]), true
}

// UpdateNode records that ni answered at instance.
func (n *NodeDB) UpdateNode(ni NeighborInfo, instance time.Time) {
	n.db.Set(nodeItemKey(ni.ID, dbNodeAddr), []byte(ni.Addr))
	n.storeInt64(nodeItemKey(ni.ID, dbNodePong), instance.Unix())
}

// LastPongReceived returns when the node with id last answered.
func (n *NodeDB) LastPongReceived(id guid.ID) time.Time {
	return time.Unix(n.fetchInt64(nodeItemKey(id, dbNodePong)), 0)
}

// Node returns the stored address of id.
func (n *NodeDB) Node(id guid.ID) (NeighborInfo, bool) {
	addr := n.db.Get(nodeItemKey(id, dbNodeAddr))
	if addr == nil {
		return NeighborInfo{}, false
	}
	return NeighborInfo{Addr: Addr(addr), ID: id}, true
}

type nodeRecord struct {
	ni   NeighborInfo
	pong int64
}

// records reads every node. Fields of one node may live in different
// shards, so they are merged by guid.
func (n *NodeDB) records() map[guid.ID]*nodeRecord {
	recs := make(map[guid.ID]*nodeRecord)
	it := n.db.NewIteratorWithPrefix([]byte(dbNodePrefix))
	defer it.Close()
	for ; it.Valid(); it.Next() {
		id, field, ok := splitNodeItemKey(it.Key())
		if !ok {
			continue
		}
		rec := recs[id]
		if rec == nil {
			rec = &nodeRecord{ni: NeighborInfo{ID: id}}
			recs[id] = rec
		}
		switch field {
		case dbNodeAddr:
			rec.ni.Addr = Addr(it.Value())
		case dbNodePong:
			rec.pong, _ = binary.Varint(it.Value())
		}
	}
	return recs
}

// Seeds returns the nodes that answered within maxAge of now, most recent
// first.
func (n *NodeDB) Seeds(now time.Time, maxAge time.Duration) []NeighborInfo {
	threshold := now.Add(-maxAge).Unix()
	var fresh []*nodeRecord
	for _, rec := range n.records() {
		if rec.ni.Addr != "" && rec.pong >= threshold {
			fresh = append(fresh, rec)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].pong != fresh[j].pong {
			return fresh[i].pong > fresh[j].pong
		}
		return fresh[i].ni.Less(fresh[j].ni)
	})
	out := make([]NeighborInfo, len(fresh))
	for i, rec := range fresh {
		out[i] = rec.ni
	}
	return out
}

// ExpireNodes deletes all nodes that have not answered since
// nodeDBExpiration before now, and returns how many it deleted.
func (n *NodeDB) ExpireNodes(now time.Time) int {
	threshold := now.Add(-nodeDBExpiration).Unix()
	batch := n.db.NewBatch()
	expired := 0
	for id, rec := range n.records() {
		if rec.pong >= threshold {
			continue
		}
		n.logger.Debug("Expiring node", "id", id, "addr", rec.ni.Addr)
		batch.Delete(nodeItemKey(id, dbNodeAddr))
		batch.Delete(nodeItemKey(id, dbNodePong))
		expired++
	}
	batch.Write()
	return expired
}

func (n *NodeDB) storeInt64(key []byte, v int64) {
	blob := make([]byte, binary.MaxVarintLen64)
	blob = blob[:binary.PutVarint(blob, v)]
	n.db.Set(key, blob)
}

// fetchInt64 retrieves an integer associated with a particular key.
func (n *NodeDB) fetchInt64(key []byte) int64 {
	blob := n.db.Get(key)
	if len(blob) == 0 {
		return 0
	}
	v, read := binary.Varint(blob)
	if read <= 0 {
		return 0
	}
	return v
}

// expireNodeDB runs ExpireNodes on the router's schedule.
func (r *Router) expireNodeDB() {
	if n := r.nodeDB.ExpireNodes(r.exec.Now()); n > 0 {
		r.logger.Info("Expired stale nodes", "count", n)
	}
	r.schedule(nodeDBCleanupCycle, r.expireNodeDB)
}
