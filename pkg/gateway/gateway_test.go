package gateway

import (
	"testing"
	"time"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/can/loopback"
	"github.com/gn10/mdnode/pkg/master"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, format protocol.TargetFormat) (*BaseGateway, *loopback.Bus) {
	hub := loopback.NewHub()
	masterBus := hub.Open()
	require.Nil(t, masterBus.Connect())
	boardBus := hub.Open()
	require.Nil(t, boardBus.Connect())
	c, err := master.New(masterBus, format, nil)
	require.Nil(t, err)
	return NewBaseGateway(c, 0, nil), boardBus
}

func sendFeedback(t *testing.T, bus *loopback.Bus, id uint8, value float32) {
	payload, _ := protocol.Feedback{Value: value}.MarshalBinary()
	ident := protocol.EncodeID(protocol.ToMaster, protocol.MotorDriver, id, protocol.KindFeedback)
	require.Nil(t, bus.Send(mdnode.NewFrameWithData(uint32(ident), payload)))
}

func TestParse(t *testing.T) {
	id, err := ParseBoardId("15")
	assert.Nil(t, err)
	assert.EqualValues(t, 15, id)
	id, err = ParseBoardId("0x3")
	assert.Nil(t, err)
	assert.EqualValues(t, 3, id)
	_, err = ParseBoardId("16")
	assert.ErrorIs(t, err, ErrBoardId)
	_, err = ParseBoardId("one")
	assert.ErrorIs(t, err, ErrBoardId)

	for s, expected := range map[string]protocol.GainChannel{"p": protocol.GainP, "I": protocol.GainI, "2": protocol.GainD} {
		ch, err := ParseGainChannel(s)
		assert.Nil(t, err)
		assert.Equal(t, expected, ch)
	}
	_, err = ParseGainChannel("x")
	assert.ErrorIs(t, err, ErrGainChannel)

	cmd, err := ParseCommand("clear-error")
	assert.Nil(t, err)
	assert.Equal(t, protocol.CommandClearError, cmd)
	cmd, err = ParseCommand("START")
	assert.Nil(t, err)
	assert.Equal(t, protocol.CommandStart, cmd)
	_, err = ParseCommand("fly")
	assert.ErrorIs(t, err, ErrCommand)
}

func TestParseGroup(t *testing.T) {
	gw, _ := newGateway(t, protocol.FormatInt16)
	group, err := gw.ParseGroup("3")
	assert.Nil(t, err)
	assert.EqualValues(t, 3, group)
	_, err = gw.ParseGroup("4")
	assert.ErrorIs(t, err, ErrGroup)

	gw, _ = newGateway(t, protocol.FormatFloat)
	_, err = gw.ParseGroup("7")
	assert.Nil(t, err)
	_, err = gw.ParseGroup("8")
	assert.ErrorIs(t, err, ErrGroup)
}

func TestBoards(t *testing.T) {
	gw, bus := newGateway(t, protocol.FormatInt16)
	assert.Empty(t, gw.Boards())
	_, err := gw.Board(2)
	assert.ErrorIs(t, err, ErrUnknownBoard)
	_, err = gw.Board(16)
	assert.ErrorIs(t, err, ErrBoardId)

	sendFeedback(t, bus, 2, 120)
	status, err := gw.Board(2)
	assert.Nil(t, err)
	assert.True(t, status.Online)
	assert.EqualValues(t, 120, status.Feedback)
	assert.Len(t, gw.Boards(), 1)

	gw.now = func() time.Time { return time.Now().Add(DefaultOnlineTimeout + time.Second) }
	status, _ = gw.Board(2)
	assert.False(t, status.Online)
}

func TestSubscribe(t *testing.T) {
	gw, bus := newGateway(t, protocol.FormatInt16)
	updates, unsubscribe := gw.Subscribe()
	sendFeedback(t, bus, 4, -3)
	status := <-updates
	assert.EqualValues(t, 4, status.ID)
	assert.EqualValues(t, -3, status.Feedback)

	for i := 0; i < DefaultSubscriberBuffer+2; i++ {
		sendFeedback(t, bus, 4, float32(i))
	}
	assert.EqualValues(t, 2, gw.Dropped())

	unsubscribe()
	unsubscribe()
	for range updates {
	}
	sendFeedback(t, bus, 4, 1)
	assert.EqualValues(t, 2, gw.Dropped())
}
