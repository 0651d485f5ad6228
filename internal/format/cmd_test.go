package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandHeader_RoundTrip(t *testing.T) {
	h := MakeHeader(FirstUserCommand+3, 17)
	require.Equal(t, uint32(17), h.Size())
	require.Equal(t, FirstUserCommand+3, h.Command())

	top := MakeHeader(MaxCommandID, MaxCommandSize)
	require.Equal(t, uint32(MaxCommandSize), top.Size())
	require.Equal(t, uint32(MaxCommandID), top.Command())
}

func TestSizeOf_FixedCommands(t *testing.T) {
	require.Equal(t, uint32(1), SizeOf[Noop]())
	require.Equal(t, uint32(2), SizeOf[SetToken]())
}

func TestSetToken_Init(t *testing.T) {
	var c SetToken
	c.Init(42)
	require.Equal(t, CmdSetToken, c.Header.Command())
	require.Equal(t, uint32(2), c.Header.Size())
	require.Equal(t, uint32(42), c.Token)
}

func TestPutNoops_SplitsLongRuns(t *testing.T) {
	entries := make([]uint32, MaxCommandSize+5)
	PutNoops(entries)

	h, err := ReadHeader(entries)
	require.NoError(t, err)
	require.Equal(t, CmdNoop, h.Command())
	require.Equal(t, uint32(MaxCommandSize), h.Size())

	h, err = ReadHeader(entries[MaxCommandSize:])
	require.NoError(t, err)
	require.Equal(t, uint32(5), h.Size())
}

func TestReadHeader_Errors(t *testing.T) {
	_, err := ReadHeader(nil)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = ReadHeader([]uint32{uint32(MakeHeader(CmdNoop, 0))})
	require.ErrorIs(t, err, ErrZeroSize)

	_, err = ReadHeader([]uint32{uint32(MakeHeader(CmdSetToken, 2))})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestEntriesOf(t *testing.T) {
	mem := make([]byte, 18)
	entries := EntriesOf(mem)
	require.Len(t, entries, 4)
	entries[1] = 0xdeadbeef
	require.NotEqual(t, byte(0), mem[4]|mem[5]|mem[6]|mem[7])
	require.Nil(t, EntriesOf(make([]byte, 3)))
}
