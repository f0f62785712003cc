package sizetracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageToWriteRespectsSpaceAvailable(t *testing.T) {
	tr := New(nil)
	tr.Init(fileOverhead+100, 0)

	require.NoError(t, tr.MessageToWrite(10))
	tr.MessageWritten(10)
	require.Equal(t, encodedMessageSize(10), tr.WrittenSize())

	err := tr.MessageToWrite(1000)
	require.Error(t, err)
	require.True(t, tr.DiskFull())
}

func TestSchemaAndChannelCountTowardMinSize(t *testing.T) {
	tr := New(nil)
	tr.Init(1<<20, 0)

	before := tr.MinSize()
	require.NoError(t, tr.SchemaToWrite(4, 7, 20))
	require.Greater(t, tr.MinSize(), before)

	before = tr.MinSize()
	require.NoError(t, tr.ChannelToWrite(5, 3, 10))
	require.Greater(t, tr.MinSize(), before)
}

func TestAttachmentToWriteReleasesOldReservationFirst(t *testing.T) {
	tr := New(nil)
	tr.Init(1<<20, 0)

	require.NoError(t, tr.AttachmentToWrite(100, 0))
	potentialAfterFirst := tr.PotentialSize()

	require.NoError(t, tr.AttachmentToWrite(50, 100))
	require.Less(t, tr.PotentialSize(), potentialAfterFirst)
}

func TestResetAfterDisable(t *testing.T) {
	tr := New(nil)
	tr.Init(1<<20, 0)
	require.NoError(t, tr.MessageToWrite(10))
	tr.MessageWritten(10)
	tr.Reset()
	require.False(t, tr.DiskFull())
}

func TestKVSize(t *testing.T) {
	kv := map[string]string{"qos": "reliable"}
	require.Equal(t, len("qos")+len("reliable")+8, KVSize(kv))
}
