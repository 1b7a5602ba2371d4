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

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wentaojin/dbsync/model/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RWNode struct {
	common.GormDB
}

func NewNodeRW(db *gorm.DB) *RWNode {
	m := &RWNode{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWNode) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Node{}).Name())
}

func (rw *RWNode) CreateNode(ctx context.Context, data *Node) (*Node, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "node_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWNode) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	var dataS []*Node
	err := rw.DB(ctx).Model(&Node{}).Where("node_id = ?", nodeID).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("get table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	if len(dataS) == 0 {
		return nil, fmt.Errorf("the table [%s] node [%s] record not found", rw.TableName(ctx), nodeID)
	}
	return dataS[0], nil
}

func (rw *RWNode) ListNode(ctx context.Context) ([]*Node, error) {
	var dataS []*Node
	err := rw.DB(ctx).Model(&Node{}).Order("node_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWNode) DeleteNode(ctx context.Context, nodeIDs []string) error {
	err := rw.DB(ctx).Where("node_id IN (?)", nodeIDs).Delete(&Node{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWNodeGroupLink struct {
	common.GormDB
}

func NewNodeGroupLinkRW(db *gorm.DB) *RWNodeGroupLink {
	m := &RWNodeGroupLink{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWNodeGroupLink) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(NodeGroupLink{}).Name())
}

func (rw *RWNodeGroupLink) CreateNodeGroupLink(ctx context.Context, data *NodeGroupLink) (*NodeGroupLink, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_node_group_id"}, {Name: "target_node_group_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWNodeGroupLink) ListNodeGroupLink(ctx context.Context) ([]*NodeGroupLink, error) {
	var dataS []*NodeGroupLink
	err := rw.DB(ctx).Model(&NodeGroupLink{}).Order("source_node_group_id, target_node_group_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWNodeGroupLink) DeleteNodeGroupLink(ctx context.Context, sourceGroupID, targetGroupID string) error {
	err := rw.DB(ctx).Where("source_node_group_id = ? AND target_node_group_id = ?", sourceGroupID, targetGroupID).Delete(&NodeGroupLink{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWChannel struct {
	common.GormDB
}

func NewChannelRW(db *gorm.DB) *RWChannel {
	m := &RWChannel{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWChannel) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Channel{}).Name())
}

func (rw *RWChannel) CreateChannel(ctx context.Context, data *Channel) (*Channel, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWChannel) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var dataS []*Channel
	err := rw.DB(ctx).Model(&Channel{}).Where("channel_id = ?", channelID).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("get table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	if len(dataS) == 0 {
		return nil, fmt.Errorf("the table [%s] channel [%s] record not found", rw.TableName(ctx), channelID)
	}
	return dataS[0], nil
}

func (rw *RWChannel) ListChannel(ctx context.Context) ([]*Channel, error) {
	var dataS []*Channel
	err := rw.DB(ctx).Model(&Channel{}).Order("processing_order, channel_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWChannel) DeleteChannel(ctx context.Context, channelIDs []string) error {
	err := rw.DB(ctx).Where("channel_id IN (?)", channelIDs).Delete(&Channel{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWTrigger struct {
	common.GormDB
}

func NewTriggerRW(db *gorm.DB) *RWTrigger {
	m := &RWTrigger{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWTrigger) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Trigger{}).Name())
}

func (rw *RWTrigger) CreateTrigger(ctx context.Context, data *Trigger) (*Trigger, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trigger_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWTrigger) ListTrigger(ctx context.Context) ([]*Trigger, error) {
	var dataS []*Trigger
	err := rw.DB(ctx).Model(&Trigger{}).Order("trigger_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWTrigger) DeleteTrigger(ctx context.Context, triggerIDs []string) error {
	err := rw.DB(ctx).Where("trigger_id IN (?)", triggerIDs).Delete(&Trigger{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWTriggerRouter struct {
	common.GormDB
}

func NewTriggerRouterRW(db *gorm.DB) *RWTriggerRouter {
	m := &RWTriggerRouter{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWTriggerRouter) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(TriggerRouter{}).Name())
}

func (rw *RWTriggerRouter) CreateTriggerRouter(ctx context.Context, data *TriggerRouter) (*TriggerRouter, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trigger_id"}, {Name: "router_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWTriggerRouter) ListTriggerRouter(ctx context.Context) ([]*TriggerRouter, error) {
	var dataS []*TriggerRouter
	err := rw.DB(ctx).Model(&TriggerRouter{}).Order("trigger_id, router_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWTriggerRouter) DeleteTriggerRouter(ctx context.Context, triggerID, routerID string) error {
	err := rw.DB(ctx).Where("trigger_id = ? AND router_id = ?", triggerID, routerID).Delete(&TriggerRouter{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWRouter struct {
	common.GormDB
}

func NewRouterRW(db *gorm.DB) *RWRouter {
	m := &RWRouter{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWRouter) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Router{}).Name())
}

func (rw *RWRouter) CreateRouter(ctx context.Context, data *Router) (*Router, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "router_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWRouter) ListRouter(ctx context.Context) ([]*Router, error) {
	var dataS []*Router
	err := rw.DB(ctx).Model(&Router{}).Order("router_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWRouter) DeleteRouter(ctx context.Context, routerIDs []string) error {
	err := rw.DB(ctx).Where("router_id IN (?)", routerIDs).Delete(&Router{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWConflict struct {
	common.GormDB
}

func NewConflictRW(db *gorm.DB) *RWConflict {
	m := &RWConflict{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWConflict) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Conflict{}).Name())
}

func (rw *RWConflict) CreateConflict(ctx context.Context, data *Conflict) (*Conflict, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conflict_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWConflict) ListConflict(ctx context.Context) ([]*Conflict, error) {
	var dataS []*Conflict
	err := rw.DB(ctx).Model(&Conflict{}).Order("conflict_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWConflict) DeleteConflict(ctx context.Context, conflictIDs []string) error {
	err := rw.DB(ctx).Where("conflict_id IN (?)", conflictIDs).Delete(&Conflict{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWTransform struct {
	common.GormDB
}

func NewTransformRW(db *gorm.DB) *RWTransform {
	m := &RWTransform{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWTransform) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(TransformTable{}).Name())
}

func (rw *RWTransform) CreateTransformTable(ctx context.Context, data *TransformTable) (*TransformTable, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transform_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWTransform) CreateTransformColumn(ctx context.Context, data *TransformColumn) (*TransformColumn, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transform_id"}, {Name: "target_column_name"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create transform column record failed: %v", err)
	}
	return data, nil
}

func (rw *RWTransform) ListTransformTable(ctx context.Context) ([]*TransformTable, error) {
	var dataS []*TransformTable
	err := rw.DB(ctx).Model(&TransformTable{}).Order("transform_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWTransform) ListTransformColumn(ctx context.Context) ([]*TransformColumn, error) {
	var dataS []*TransformColumn
	err := rw.DB(ctx).Model(&TransformColumn{}).Order("transform_id, transform_order, target_column_name").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list transform column record failed: %v", err)
	}
	return dataS, nil
}

func (rw *RWTransform) DeleteTransform(ctx context.Context, transformIDs []string) error {
	err := rw.DB(ctx).Where("transform_id IN (?)", transformIDs).Delete(&TransformColumn{}).Error
	if err != nil {
		return fmt.Errorf("delete transform column record failed: %v", err)
	}
	err = rw.DB(ctx).Where("transform_id IN (?)", transformIDs).Delete(&TransformTable{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

type RWLoadFilter struct {
	common.GormDB
}

func NewLoadFilterRW(db *gorm.DB) *RWLoadFilter {
	m := &RWLoadFilter{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWLoadFilter) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(LoadFilter{}).Name())
}

func (rw *RWLoadFilter) CreateLoadFilter(ctx context.Context, data *LoadFilter) (*LoadFilter, error) {
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filter_id"}},
		UpdateAll: true,
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWLoadFilter) ListLoadFilter(ctx context.Context) ([]*LoadFilter, error) {
	var dataS []*LoadFilter
	err := rw.DB(ctx).Model(&LoadFilter{}).Order("filter_order, filter_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWLoadFilter) DeleteLoadFilter(ctx context.Context, filterIDs []string) error {
	err := rw.DB(ctx).Where("filter_id IN (?)", filterIDs).Delete(&LoadFilter{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}
