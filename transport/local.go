/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/protocol"
)

// transport operations seen by fault hooks
const (
	OpPush = "push"
	OpPull = "pull"
	OpAck  = "ack"
)

// Fault intercepts a local call, it may fail the call or rewrite the payload
type Fault func(op string, node *config.Node, payload []byte) ([]byte, error)

type localPeer struct {
	endpoint Endpoint
	auth     Authenticator
}

// Network connects the endpoints of nodes living in one process
type Network struct {
	mu    sync.RWMutex
	peers map[string]*localPeer
}

func NewNetwork() *Network {
	return &Network{peers: make(map[string]*localPeer)}
}

// Register attaches the endpoint of the node, auth may be nil to accept every caller
func (n *Network) Register(nodeID string, endpoint Endpoint, auth Authenticator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[nodeID] = &localPeer{endpoint: endpoint, auth: auth}
}

func (n *Network) peer(ctx context.Context, creds Credentials, nodeID string) (*localPeer, error) {
	n.mu.RLock()
	p, ok := n.peers[nodeID]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node [%s] is not reachable on the local network", nodeID)
	}
	if p.auth != nil {
		if err := p.auth.Authenticate(ctx, creds.NodeID, creds.SecurityToken); err != nil {
			return nil, fmt.Errorf("node [%s] rejected node [%s]: %w: %v", nodeID, creds.NodeID, ErrUnauthorized, err)
		}
	}
	return p, nil
}

// LocalTransport calls endpoints of the same process directly
type LocalTransport struct {
	creds   Credentials
	network *Network

	mu    sync.Mutex
	fault Fault
}

func NewLocalTransport(creds Credentials, network *Network) *LocalTransport {
	return &LocalTransport{creds: creds, network: network}
}

// SetFault installs the fault hook, nil removes it
func (t *LocalTransport) SetFault(f Fault) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fault = f
}

func (t *LocalTransport) inject(op string, node *config.Node, payload []byte) ([]byte, error) {
	t.mu.Lock()
	f := t.fault
	t.mu.Unlock()
	if f == nil {
		return payload, nil
	}
	return f(op, node, payload)
}

func (t *LocalTransport) Push(ctx context.Context, node *config.Node, payload []byte) ([]*protocol.Ack, error) {
	p, err := t.network.peer(ctx, t.creds, node.NodeID)
	if err != nil {
		return nil, err
	}
	payload, err = t.inject(OpPush, node, payload)
	if err != nil {
		return nil, err
	}
	return p.endpoint.HandlePush(ctx, t.creds.NodeID, bytes.NewReader(payload))
}

func (t *LocalTransport) Pull(ctx context.Context, node *config.Node) (io.ReadCloser, error) {
	p, err := t.network.peer(ctx, t.creds, node.NodeID)
	if err != nil {
		return nil, err
	}
	payload, err := p.endpoint.HandlePull(ctx, t.creds.NodeID)
	if err != nil {
		return nil, err
	}
	payload, err = t.inject(OpPull, node, payload)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (t *LocalTransport) SendAcks(ctx context.Context, node *config.Node, acks []*protocol.Ack) error {
	p, err := t.network.peer(ctx, t.creds, node.NodeID)
	if err != nil {
		return err
	}
	if _, err = t.inject(OpAck, node, nil); err != nil {
		return err
	}
	return p.endpoint.HandleAcks(ctx, t.creds.NodeID, acks)
}
