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
	"context"
	"errors"
	"io"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/protocol"
)

// ErrUnauthorized is returned when the remote node rejects the node id and security token
var ErrUnauthorized = errors.New("transport unauthorized")

// Transport moves batch payloads and acks between the local node and a remote node
type Transport interface {
	// Push sends the extracted batches to the node and returns the load acks
	Push(ctx context.Context, node *config.Node, payload []byte) ([]*protocol.Ack, error)
	// Pull fetches the batches the node holds for the local node
	Pull(ctx context.Context, node *config.Node) (io.ReadCloser, error)
	// SendAcks returns the load acks of pulled batches to the node
	SendAcks(ctx context.Context, node *config.Node, acks []*protocol.Ack) error
}

// Credentials identify the calling node
type Credentials struct {
	NodeID        string
	SecurityToken string
}

// Authenticator checks the credentials carried by every call
type Authenticator interface {
	Authenticate(ctx context.Context, nodeID, securityToken string) error
}

// Endpoint is the receiving side of a node, the http server and the local transport dispatch to it after
// authenticating the caller
type Endpoint interface {
	// HandlePush loads the batches pushed by the source node
	HandlePush(ctx context.Context, sourceNodeID string, payload io.Reader) ([]*protocol.Ack, error)
	// HandlePull extracts the batches waiting for the target node
	HandlePull(ctx context.Context, targetNodeID string) ([]byte, error)
	// HandleAcks records the acks of batches the node pulled
	HandleAcks(ctx context.Context, nodeID string, acks []*protocol.Ack) error
}
