package ddstypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicQoSEncodeDecodeRoundTrip(t *testing.T) {
	q := TopicQoS{
		Reliability: ReliabilityReliable,
		Durability:  DurabilityTransientLocal,
		Ownership:   OwnershipExclusive,
		Keyed:       true,
		Partitions:  []string{"b", "a"},
		Fuzzy:       true,
	}

	got, err := Decode(q.Encode())
	require.NoError(t, err)
	require.Equal(t, q.Reliability, got.Reliability)
	require.Equal(t, q.Durability, got.Durability)
	require.Equal(t, q.Ownership, got.Ownership)
	require.Equal(t, q.Keyed, got.Keyed)
	require.Equal(t, q.Fuzzy, got.Fuzzy)
	require.Equal(t, []string{"a", "b"}, got.Partitions)
}

func TestTopicKeyCanonicalizesPartitionOrder(t *testing.T) {
	k1 := NewTopicKey("/topic", "Type", []string{"b", "a"})
	k2 := NewTopicKey("/topic", "Type", []string{"a", "b"})
	require.Equal(t, k1, k2)
	require.Equal(t, k1.Hash(), k2.Hash())
}

func TestTopicKeyDistinguishesByPartitionSet(t *testing.T) {
	k1 := NewTopicKey("/topic", "Type", []string{"a"})
	k2 := NewTopicKey("/topic", "Type", []string{"b"})
	require.NotEqual(t, k1, k2)
}
