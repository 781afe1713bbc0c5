// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const metadataSnapshotKey = "/brokerproxy/metadata/snapshot"

// clusterMetadata mirrors the shape the cluster's metadata store publishes
// to etcd: the active broker set and, per topic, which broker owns it.
type clusterMetadata struct {
	Brokers []brokerEntry          `json:"brokers"`
	Topics  map[string]topicEntry  `json:"topics"`
}

type brokerEntry struct {
	ServiceURL    string  `json:"serviceUrl"`
	ServiceURLTLS string  `json:"serviceUrlTls"`
	LoadScore     float64 `json:"loadScore"`
}

type topicEntry struct {
	OwnerServiceURL string `json:"ownerServiceUrl"`
}

// EtcdProvider resolves broker ownership from a metadata snapshot kept in
// etcd under metadataSnapshotKey, refreshing on every call.
type EtcdProvider struct {
	client *clientv3.Client
}

var _ Provider = (*EtcdProvider)(nil)

// NewEtcd dials etcd and returns a Provider backed by it.
func NewEtcd(endpoints []string, username, password string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("discovery: etcd endpoints required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		Username:    username,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: dial etcd: %w", err)
	}
	return &EtcdProvider{client: client}, nil
}

func (p *EtcdProvider) snapshot(ctx context.Context) (clusterMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := p.client.Get(ctx, metadataSnapshotKey)
	if err != nil {
		return clusterMetadata{}, fmt.Errorf("discovery: get snapshot: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return clusterMetadata{}, fmt.Errorf("discovery: no metadata snapshot at %s", metadataSnapshotKey)
	}

	var snap clusterMetadata
	if err := json.Unmarshal(resp.Kvs[0].Value, &snap); err != nil {
		return clusterMetadata{}, fmt.Errorf("discovery: decode snapshot: %w", err)
	}
	return snap, nil
}

func (p *EtcdProvider) OwnerOf(ctx context.Context, topic string) (Broker, error) {
	snap, err := p.snapshot(ctx)
	if err != nil {
		return Broker{}, err
	}
	entry, ok := snap.Topics[topic]
	if !ok {
		return Broker{}, ErrUnknownTopic
	}
	for _, b := range snap.Brokers {
		if b.ServiceURL == entry.OwnerServiceURL {
			return toBroker(b), nil
		}
	}
	return Broker{}, ErrUnknownTopic
}

func (p *EtcdProvider) ListActiveBrokers(ctx context.Context) ([]Broker, error) {
	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	brokers := make([]Broker, len(snap.Brokers))
	for i, b := range snap.Brokers {
		brokers[i] = toBroker(b)
	}
	return brokers, nil
}

func (p *EtcdProvider) LeastLoaded(ctx context.Context) (Broker, error) {
	brokers, err := p.ListActiveBrokers(ctx)
	if err != nil {
		return Broker{}, err
	}
	if len(brokers) == 0 {
		return Broker{}, fmt.Errorf("discovery: no active brokers")
	}
	sort.Slice(brokers, func(i, j int) bool {
		return brokers[i].LoadScore < brokers[j].LoadScore
	})
	return brokers[0], nil
}

func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

func toBroker(b brokerEntry) Broker {
	return Broker{
		ServiceURL:    b.ServiceURL,
		ServiceURLTLS: b.ServiceURLTLS,
		LoadScore:     b.LoadScore,
	}
}
