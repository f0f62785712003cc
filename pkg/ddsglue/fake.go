package ddsglue

import (
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/handler"
)

// FakeSampleSource is an in-memory SampleSource for tests; it is not a DDS
// binding, it just passes each sample given to Emit to the subscribed
// callback.
type FakeSampleSource struct {
	fn func(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, sample handler.Sample)
}

// Subscribe implements SampleSource.
func (f *FakeSampleSource) Subscribe(fn func(ddstypes.TopicKey, ddstypes.TopicQoS, string, handler.Sample)) error {
	f.fn = fn
	return nil
}

// Emit delivers one sample synchronously, as a real reader callback would.
func (f *FakeSampleSource) Emit(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, sample handler.Sample) {
	if f.fn != nil {
		f.fn(topic, qos, typeName, sample)
	}
}
