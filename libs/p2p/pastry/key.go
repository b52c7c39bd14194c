package pastry

import (
	"crypto/rand"
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"

	cmn "github.com/lianxiangcloud/ringroute/libs/common"
	"github.com/lianxiangcloud/ringroute/libs/p2p/guid"
)

// NodeKey is the persistent identity of a node. Its guid is derived from
// the public key, so it survives address changes.
type NodeKey struct {
	PrivKey ed25519.PrivateKey `json:"priv_key"`
}

// PubKey returns the public half of the key.
func (k *NodeKey) PubKey() ed25519.PublicKey {
	return k.PrivKey.Public().(ed25519.PublicKey)
}

// GUID returns the node's guid, the SHA1 of its public key.
func (k *NodeKey) GUID() guid.ID {
	return guid.FromHash(k.PubKey())
}

// LoadOrGenNodeKey loads the key at filePath, or generates one and saves
// it there if the file does not exist.
func LoadOrGenNodeKey(filePath string) (*NodeKey, error) {
	if cmn.FileExists(filePath) {
		return LoadNodeKey(filePath)
	}
	return genNodeKey(filePath)
}

// LoadNodeKey reads a key written by LoadOrGenNodeKey.
func LoadNodeKey(filePath string) (*NodeKey, error) {
	jsonBytes, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	nodeKey := new(NodeKey)
	if err := json.Unmarshal(jsonBytes, nodeKey); err != nil {
		return nil, errors.Wrapf(err, "reading node key from %v", filePath)
	}
	if len(nodeKey.PrivKey) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("node key in %v has %d bytes", filePath, len(nodeKey.PrivKey))
	}
	return nodeKey, nil
}

func genNodeKey(filePath string) (*NodeKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	nodeKey := &NodeKey{PrivKey: priv}
	jsonBytes, err := json.Marshal(nodeKey)
	if err != nil {
		return nil, err
	}
	if err := cmn.WriteFileAtomic(filePath, jsonBytes, 0600); err != nil {
		return nil, errors.Wrap(err, "saving node key")
	}
	return nodeKey, nil
}
