// Package ddsglue models, at interface granularity only, the DDS-side
// collaborators spec.md §1 places out of scope: the DynTypes participant,
// the Schema participant, and the discovery DB bridge that creates blank
// readers for untyped topics. No DDS transport code lives here.
package ddsglue

import (
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/handler"
)

// DiscoveredType is what a real DDS type-discovery participant hands the
// core once a topic's type is known.
type DiscoveredType struct {
	TypeName        string
	Encoding        ddstypes.Encoding
	SchemaText      string
	TypeInformation []byte
	TypeObject      []byte
}

// TypeDiscoverer is the callback surface a DynTypes/Schema participant
// invokes on type discovery (spec.md §2 "DynTypes participant, Schema
// participant").
type TypeDiscoverer interface {
	OnTypeDiscovered(DiscoveredType) error
}

// DiscoveryDB is a read-only view of discovered topics, used to create blank
// readers for topics whose schema has not arrived yet.
type DiscoveryDB interface {
	// KnownTopics returns every (topic, qos) pair discovered so far, whether
	// or not a Schema has been resolved for it.
	KnownTopics() []DiscoveredTopic
}

// DiscoveredTopic is one entry of a DiscoveryDB.
type DiscoveredTopic struct {
	Topic ddstypes.TopicKey
	QoS   ddstypes.TopicQoS
}

// SampleSource is the tuple producer spec.md §6 describes: a DDS reader
// callback handing payload references to the core.
type SampleSource interface {
	// Subscribe registers fn to be called for every sample received on any
	// discovered topic. There is no unsubscribe call; SampleSource
	// implementations are expected to stop calling fn once the recorder
	// orchestrator tears down.
	Subscribe(fn func(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, sample handler.Sample)) error
}

// Bridge adapts a TypeDiscoverer feed into calls against one or more
// handlers, and a SampleSource feed into AddData calls against the same
// handlers — the wiring spec.md §2's data-flow diagram describes between
// "DDS reader" / "DDS type-discovery" and the handler.
type Bridge struct {
	handlers []*handler.Handler
}

// NewBridge constructs a Bridge fanning out to every given handler (normally
// one per enabled writer kind — the "dual-writer" of spec.md §1).
func NewBridge(handlers ...*handler.Handler) *Bridge {
	return &Bridge{handlers: handlers}
}

// OnTypeDiscovered implements TypeDiscoverer by fanning the schema out to
// every wired handler.
func (b *Bridge) OnTypeDiscovered(t DiscoveredType) error {
	for _, h := range b.handlers {
		if err := h.AddSchema(t.TypeName, t.Encoding, t.SchemaText, t.TypeInformation, t.TypeObject); err != nil {
			return err
		}
	}
	return nil
}

// OnSample fans one sample out to every wired handler's AddData.
func (b *Bridge) OnSample(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, sample handler.Sample) error {
	for _, h := range b.handlers {
		if err := h.AddData(topic, qos, typeName, sample); err != nil {
			return err
		}
	}
	return nil
}

// AttachTo wires a SampleSource's callback to Bridge.OnSample and hands every
// per-sample error to onError (errors are dropped only when onError is nil).
// A dropped sample is expressed by AddData itself returning nil (spec.md §4.6
// data-path never errors on a drop), so any error here is a genuine
// writer-side Inconsistency.
func (b *Bridge) AttachTo(src SampleSource, onError func(error)) error {
	return src.Subscribe(func(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, sample handler.Sample) {
		if err := b.OnSample(topic, qos, typeName, sample); err != nil && onError != nil {
			onError(err)
		}
	})
}
