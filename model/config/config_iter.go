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
package config

import "context"

type INode interface {
	CreateNode(ctx context.Context, data *Node) (*Node, error)
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	ListNode(ctx context.Context) ([]*Node, error)
	DeleteNode(ctx context.Context, nodeIDs []string) error
}

type INodeGroupLink interface {
	CreateNodeGroupLink(ctx context.Context, data *NodeGroupLink) (*NodeGroupLink, error)
	ListNodeGroupLink(ctx context.Context) ([]*NodeGroupLink, error)
	DeleteNodeGroupLink(ctx context.Context, sourceGroupID, targetGroupID string) error
}

type IChannel interface {
	CreateChannel(ctx context.Context, data *Channel) (*Channel, error)
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	ListChannel(ctx context.Context) ([]*Channel, error)
	DeleteChannel(ctx context.Context, channelIDs []string) error
}

type ITrigger interface {
	CreateTrigger(ctx context.Context, data *Trigger) (*Trigger, error)
	ListTrigger(ctx context.Context) ([]*Trigger, error)
	DeleteTrigger(ctx context.Context, triggerIDs []string) error
}

type ITriggerRouter interface {
	CreateTriggerRouter(ctx context.Context, data *TriggerRouter) (*TriggerRouter, error)
	ListTriggerRouter(ctx context.Context) ([]*TriggerRouter, error)
	DeleteTriggerRouter(ctx context.Context, triggerID, routerID string) error
}

type IRouter interface {
	CreateRouter(ctx context.Context, data *Router) (*Router, error)
	ListRouter(ctx context.Context) ([]*Router, error)
	DeleteRouter(ctx context.Context, routerIDs []string) error
}

type IConflict interface {
	CreateConflict(ctx context.Context, data *Conflict) (*Conflict, error)
	ListConflict(ctx context.Context) ([]*Conflict, error)
	DeleteConflict(ctx context.Context, conflictIDs []string) error
}

type ITransform interface {
	CreateTransformTable(ctx context.Context, data *TransformTable) (*TransformTable, error)
	CreateTransformColumn(ctx context.Context, data *TransformColumn) (*TransformColumn, error)
	ListTransformTable(ctx context.Context) ([]*TransformTable, error)
	ListTransformColumn(ctx context.Context) ([]*TransformColumn, error)
	DeleteTransform(ctx context.Context, transformIDs []string) error
}

type ILoadFilter interface {
	CreateLoadFilter(ctx context.Context, data *LoadFilter) (*LoadFilter, error)
	ListLoadFilter(ctx context.Context) ([]*LoadFilter, error)
	DeleteLoadFilter(ctx context.Context, filterIDs []string) error
}
