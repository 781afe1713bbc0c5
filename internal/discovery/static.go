// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"hash/fnv"
)

// StaticProvider serves a fixed broker list, used for single-broker
// deployments and tests. Topic ownership is a stable hash over the topic
// name, so the same topic always maps to the same broker for the lifetime
// of the process.
type StaticProvider struct {
	brokers []Broker
}

var _ Provider = (*StaticProvider)(nil)

// NewStatic builds a StaticProvider from a fixed list of broker service
// URLs.
func NewStatic(serviceURLs []string) *StaticProvider {
	brokers := make([]Broker, len(serviceURLs))
	for i, u := range serviceURLs {
		brokers[i] = Broker{ServiceURL: u}
	}
	return &StaticProvider{brokers: brokers}
}

func (p *StaticProvider) OwnerOf(_ context.Context, topic string) (Broker, error) {
	if len(p.brokers) == 0 {
		return Broker{}, ErrUnknownTopic
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	idx := int(h.Sum32()) % len(p.brokers)
	if idx < 0 {
		idx += len(p.brokers)
	}
	return p.brokers[idx], nil
}

func (p *StaticProvider) ListActiveBrokers(context.Context) ([]Broker, error) {
	return p.brokers, nil
}

func (p *StaticProvider) LeastLoaded(ctx context.Context) (Broker, error) {
	return p.OwnerOf(ctx, "")
}

func (p *StaticProvider) Close() error { return nil }
