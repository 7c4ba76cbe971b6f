package main

import (
	"context"
	"testing"
	"time"

	can "github.com/gn10/mdnode/pkg/can"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/master"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/gn10/mdnode/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartNode(t *testing.T) {
	cfg := config.Default()
	cfg.Node.BoardID = 6
	cfg.Node.InitReportPeriod = 5

	masterBus, err := can.NewBus("loopback", t.Name())
	require.Nil(t, err)
	require.Nil(t, masterBus.Connect())
	controller, err := master.New(masterBus, protocol.FormatInt16, nil)
	require.Nil(t, err)
	defaults, err := cfg.ProtocolMotorConfig()
	require.Nil(t, err)
	controller.AutoConfigure(&defaults)

	bus, err := can.NewBus("loopback", t.Name())
	require.Nil(t, err)
	require.Nil(t, bus.Connect())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n, err := startNode(ctx, bus, cfg)
	require.Nil(t, err)
	defer n.Stop()

	assert.Eventually(t, func() bool { return n.Manager().State() == state.Idle }, 2*time.Second, time.Millisecond)
	require.Nil(t, controller.SendTarget(6, 800))
	assert.Eventually(t, func() bool {
		snapshot, ok := controller.Snapshot(6)
		return ok && snapshot.Feedback > 0
	}, 2*time.Second, time.Millisecond)
}
