package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

func TestMarshalUnmarshalCollectionRoundTrip(t *testing.T) {
	c := ddstypes.NewDynamicTypesCollection()
	c.Put(ddstypes.DynamicTypeEntry{TypeName: "A", TypeInformation: []byte{1, 2}, TypeObject: []byte{3}})
	c.Put(ddstypes.DynamicTypeEntry{TypeName: "B", TypeInformation: []byte{}, TypeObject: []byte{4, 5, 6}})

	data, err := MarshalCollection(c)
	require.NoError(t, err)

	got, err := UnmarshalCollection(data)
	require.NoError(t, err)
	require.Equal(t, c.Entries(), got.Entries())
}

func TestUnmarshalCollectionRejectsBadMagic(t *testing.T) {
	_, err := UnmarshalCollection([]byte{0, 0, 0, 0})
	require.Error(t, err)
}

func TestTypeIdentifierRoundTrip(t *testing.T) {
	id := TypeIdentifier([]byte{9, 8, 7})
	got, err := DecodeTypeIdentifier(EncodeTypeIdentifier(id))
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestQoSAliasesMatchTopicQoSMethods(t *testing.T) {
	q := ddstypes.TopicQoS{Reliability: ddstypes.ReliabilityReliable}
	got, err := DecodeQoS(EncodeQoS(q))
	require.NoError(t, err)
	require.Equal(t, q.Reliability, got.Reliability)
}
