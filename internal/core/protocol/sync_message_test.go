package protocol

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/peersync/pkg/encoding"
)

func randomTuples(rng *rand.Rand, n int) []ComponentTuple {
	tuples := make([]ComponentTuple, n)
	for i := range tuples {
		payload := make([]byte, rng.Intn(MaxComponentPayload+1))
		rng.Read(payload)
		tuples[i] = ComponentTuple{
			ID:      encoding.StableID(rng.Intn(int(SequenceComponentID))),
			Payload: payload,
		}
	}
	return tuples
}

func assertTuples(t *testing.T, want, got []ComponentTuple) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}
}

func TestUpdate_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n <= DefaultMaxComponentsPerEntity; n++ {
		msg := UpdateMessage{
			StaticID:    StaticEntityID(rng.Intn(math.MaxUint16 + 1)),
			Sequence:    rng.Uint32(),
			HasSequence: n%2 == 0,
			Components:  randomTuples(rng, n),
		}

		data, err := EncodeUpdate(msg, DefaultMaxComponentsPerEntity)
		require.NoError(t, err)

		decoded, err := DecodeUpdate(data, DefaultMaxComponentsPerEntity)
		require.NoError(t, err)
		assert.Equal(t, msg.StaticID, decoded.StaticID)
		assert.Equal(t, msg.HasSequence, decoded.HasSequence)
		if msg.HasSequence {
			assert.Equal(t, msg.Sequence, decoded.Sequence)
		}
		assertTuples(t, msg.Components, decoded.Components)
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for n := 0; n <= DefaultMaxComponentsPerEntity; n++ {
		msg := CreateMessage{
			StaticID:   StaticEntityID(n * 97),
			Info:       ObjectInfoFromByte(uint8(n % 4)),
			Components: randomTuples(rng, n),
		}

		data, err := EncodeCreate(msg, DefaultMaxComponentsPerEntity)
		require.NoError(t, err)
		assert.Equal(t, byte(EventTypeEntityCreate), data[0])

		decoded, err := DecodeCreate(data, DefaultMaxComponentsPerEntity)
		require.NoError(t, err)
		assert.Equal(t, msg.StaticID, decoded.StaticID)
		assert.Equal(t, msg.Info, decoded.Info)
		assertTuples(t, msg.Components, decoded.Components)
	}
}

func TestUpdate_Layout(t *testing.T) {
	data, err := EncodeUpdate(UpdateMessage{
		StaticID:    0x0102,
		Sequence:    7,
		HasSequence: true,
		Components:  []ComponentTuple{{ID: 0x0A0B, Payload: []byte{0xEE}}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		2, 0x02, 0x01,
		0xFF, 0xFF, 4, 7, 0, 0, 0,
		0x0B, 0x0A, 1, 0xEE,
	}, data)
}

func TestDelete_RoundTrip(t *testing.T) {
	data := EncodeDelete(0xABCD)
	assert.Equal(t, []byte{1, 0xCD, 0xAB}, data)

	id, err := DecodeDelete(data)
	require.NoError(t, err)
	assert.Equal(t, StaticEntityID(0xABCD), id)

	_, err = DecodeDelete(append(data, 0))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = DecodeDelete(data[:2])
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestEncode_RejectsOversize(t *testing.T) {
	big := []ComponentTuple{{ID: 1, Payload: make([]byte, MaxComponentPayload+1)}}
	_, err := EncodeUpdate(UpdateMessage{Components: big}, 0)
	assert.ErrorIs(t, err, ErrComponentTooLarge)
	_, err = EncodeCreate(CreateMessage{Components: big}, 0)
	assert.ErrorIs(t, err, ErrComponentTooLarge)

	many := make([]ComponentTuple, 5)
	_, err = EncodeUpdate(UpdateMessage{Components: many}, 4)
	assert.ErrorIs(t, err, ErrTooManyComponents)
	_, err = EncodeCreate(CreateMessage{Components: many}, 4)
	assert.ErrorIs(t, err, ErrTooManyComponents)

	reserved := []ComponentTuple{{ID: SequenceComponentID}}
	_, err = EncodeUpdate(UpdateMessage{Components: reserved}, 0)
	assert.ErrorIs(t, err, ErrReservedComponent)
}

func TestDecodeUpdate_StopsAtLimit(t *testing.T) {
	data, err := EncodeUpdate(UpdateMessage{
		StaticID:    3,
		HasSequence: true,
		Components:  make([]ComponentTuple, 10),
	}, 10)
	require.NoError(t, err)

	_, err = DecodeUpdate(data, 9)
	assert.ErrorIs(t, err, ErrTooManyComponents)

	decoded, err := DecodeUpdate(data, 10)
	require.NoError(t, err)
	assert.Len(t, decoded.Components, 10)
}

func TestDecodeUpdate_Malformed(t *testing.T) {
	valid, err := EncodeUpdate(UpdateMessage{
		StaticID:   1,
		Components: []ComponentTuple{{ID: 2, Payload: []byte{1, 2, 3}}},
	}, 0)
	require.NoError(t, err)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedFrame},
		{"short header", []byte{2, 1}, ErrTruncatedFrame},
		{"partial tuple header", valid[:len(valid)-4], ErrTruncatedFrame},
		{"partial payload", valid[:len(valid)-1], ErrTruncatedFrame},
		{"wrong kind", []byte{1, 0, 0}, ErrUnexpectedKind},
		{"generic kind", []byte{3, 0, 0}, ErrUnexpectedKind},
		{"unknown kind", []byte{200, 0, 0}, ErrUnknownEventType},
		{"short sequence", []byte{2, 0, 0, 0xFF, 0xFF, 2, 0, 0}, ErrLengthMismatch},
		{"late sequence", append(append([]byte{}, valid...), 0xFF, 0xFF, 4, 0, 0, 0, 0), ErrReservedComponent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeUpdate(tc.data, 0)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeCreate_Malformed(t *testing.T) {
	valid, err := EncodeCreate(CreateMessage{
		StaticID:   1,
		Components: []ComponentTuple{{ID: 2, Payload: []byte{9}}},
	}, 0)
	require.NoError(t, err)

	_, err = DecodeCreate(valid[:4], 0)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	_, err = DecodeCreate(valid[:len(valid)-1], 0)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
	_, err = DecodeCreate(append(append([]byte{}, valid...), 0), 0)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	overCount := append([]byte{}, valid...)
	overCount[4] = 200
	_, err = DecodeCreate(overCount, 0)
	assert.ErrorIs(t, err, ErrTooManyComponents)
}

func TestSequenceNewer(t *testing.T) {
	assert.True(t, SequenceNewer(2, 1))
	assert.False(t, SequenceNewer(1, 1))
	assert.False(t, SequenceNewer(1, 2))
	assert.True(t, SequenceNewer(0, math.MaxUint32))
	assert.True(t, SequenceNewer(5, math.MaxUint32-5))
}
