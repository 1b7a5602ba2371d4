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
package topology

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrNodeDisabled  = errors.New("node sync disabled")
	ErrTokenMismatch = errors.New("node security token mismatch")
)

// Authenticator checks the node id and security token carried by every transport call
type Authenticator interface {
	Authenticate(ctx context.Context, nodeID, securityToken string) error
}

type snapshotAuthenticator struct {
	manager *Manager
}

// NewAuthenticator authenticates against the registered nodes of the current snapshot
func NewAuthenticator(manager *Manager) Authenticator {
	return &snapshotAuthenticator{manager: manager}
}

func (a *snapshotAuthenticator) Authenticate(ctx context.Context, nodeID, securityToken string) error {
	s, err := a.manager.Current(ctx)
	if err != nil {
		return err
	}
	n, ok := s.Node(nodeID)
	if !ok {
		return fmt.Errorf("node [%s] authenticate failed: %w", nodeID, ErrUnknownNode)
	}
	if !n.SyncEnabled {
		return fmt.Errorf("node [%s] authenticate failed: %w", nodeID, ErrNodeDisabled)
	}
	if subtle.ConstantTimeCompare([]byte(n.SecurityToken), []byte(securityToken)) != 1 {
		return fmt.Errorf("node [%s] authenticate failed: %w", nodeID, ErrTokenMismatch)
	}
	return nil
}
