package graph_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/device"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/graph"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRig struct {
	api   *device.StaticAPI
	graph *graph.Graph
	mic   *device.ManualCaptureEndpoint
	spk   *device.ManualRenderEndpoint
}

// newTestRig registers a mono 48k mic and speaker behind a StaticAPI.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		api: device.NewStaticAPI(),
		mic: device.NewManualCaptureEndpoint(),
		spk: device.NewManualRenderEndpoint(),
	}
	rig.api.RegisterCapture("mic", monoFormat(48000), rig.mic)
	rig.api.RegisterRender("spk", monoFormat(48000), rig.spk)
	rig.graph = graph.New(rig.api, graph.Config{}, nil)
	t.Cleanup(rig.graph.Stop)
	return rig
}

func (rig *testRig) pull(frameCount int) frame.PCMFrame {
	buf := make(frame.PCMFrame, frameCount)
	rig.spk.Pull(endpoint.RenderBuffer{Interleaved: buf}, frameCount)
	return buf
}

func TestSineRoundTrip(t *testing.T) {
	// mic (offset 0) -> spk (offset 0), no effects; one second of a
	// 440Hz sine in at the source must come out of the destination
	// within float tolerance.
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0),
		graph.DeviceEndpoint("spk", 0),
		nil,
	))
	assert.True(t, rig.mic.Started())
	assert.True(t, rig.spk.Started())

	const blockFrames = 480
	block := make(frame.PCMFrame, blockFrames)
	phase := 0.0
	step := 2 * math.Pi * 440 / 48000

	for b := 0; b < 100; b++ { // one second in 10ms blocks
		for i := range block {
			block[i] = float32(0.5 * math.Sin(phase))
			phase += step
		}
		rig.mic.Push(block, blockFrames, 1)

		got := rig.pull(blockFrames)
		for i := range block {
			require.InDelta(t, float64(block[i]), float64(got[i]), 1e-5,
				"block %d sample %d", b, i)
		}
	}
}

func TestRemovingLastConnectionReleasesEndpoints(t *testing.T) {
	// Removing the only connection referencing a Source stops and
	// releases it, not just its route.
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0),
		graph.DeviceEndpoint("spk", 0),
		nil,
	))

	require.NoError(t, rig.graph.RemoveConnection(connID))
	assert.False(t, rig.mic.Started(), "source stopped and released")
	assert.False(t, rig.spk.Started(), "destination stopped and released")
	assert.Empty(t, rig.graph.Snapshot().Connections)

	// The device is usable again afterwards: release was clean.
	require.NoError(t, rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("mic", 0),
		graph.DeviceEndpoint("spk", 0),
		nil,
	))
	assert.True(t, rig.mic.Started())
}

func TestSharedSourceSurvivesPartialRemoval(t *testing.T) {
	rig := newTestRig(t)
	spk2 := device.NewManualRenderEndpoint()
	rig.api.RegisterRender("spk2", monoFormat(48000), spk2)

	a, b := uuid.New(), uuid.New()
	require.NoError(t, rig.graph.CreateConnection(a,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))
	require.NoError(t, rig.graph.CreateConnection(b,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk2", 0), nil))

	require.NoError(t, rig.graph.RemoveConnection(a))
	assert.True(t, rig.mic.Started(), "capture is shared; one reader remains")
	assert.False(t, rig.spk.Started())

	require.NoError(t, rig.graph.RemoveConnection(b))
	assert.False(t, rig.mic.Started())
}

func TestCreateConnectionValidation(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		name    string
		from    graph.Endpoint
		to      graph.Endpoint
		wantErr error
	}{
		{
			name:    "device self-loop",
			from:    graph.DeviceEndpoint("mic", 0),
			to:      graph.DeviceEndpoint("mic", 0),
			wantErr: graph.ErrInvalidConnection,
		},
		{
			name:    "unknown source device",
			from:    graph.DeviceEndpoint("ghost", 0),
			to:      graph.DeviceEndpoint("spk", 0),
			wantErr: graph.ErrDeviceNotFound,
		},
		{
			name:    "unknown destination device",
			from:    graph.DeviceEndpoint("mic", 0),
			to:      graph.DeviceEndpoint("ghost", 0),
			wantErr: graph.ErrDeviceNotFound,
		},
		{
			name:    "stale node id",
			from:    graph.DeviceEndpoint("mic", 0),
			to:      graph.NodeEndpoint(uuid.New()),
			wantErr: graph.ErrProcessingNodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rig.graph.CreateConnection(uuid.New(), tt.from, tt.to, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, rig.graph.Snapshot().Connections, "no partial mutation on failure")
			assert.False(t, rig.mic.Started())
		})
	}
}

// failingCaptureEndpoint refuses to start, for exercising hardware-start
// rollback.
type failingCaptureEndpoint struct{}

func (failingCaptureEndpoint) SetFrameHandler(endpoint.FrameHandler) {}
func (failingCaptureEndpoint) Start() error                          { return errors.New("device busy") }
func (failingCaptureEndpoint) Stop() error                           { return nil }

func TestFailedCreateLeavesNodeChainUntouched(t *testing.T) {
	rig := newTestRig(t)
	rig.api.RegisterCapture("badmic", monoFormat(48000), failingCaptureEndpoint{})

	nodeID, err := rig.graph.CreateProcessingNode([]effects.Descriptor{
		{Kind: effects.KindGain, Params: map[string]float64{"factor": 2}},
	})
	require.NoError(t, err)

	err = rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("badmic", 0),
		graph.NodeEndpoint(nodeID),
		[]effects.Descriptor{{Kind: effects.KindSoftClip}},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrHardwareStartFailed)

	snap := rig.graph.Snapshot()
	assert.Empty(t, snap.Connections, "no partial mutation on failure")
	require.Len(t, snap.Nodes, 1)
	assert.Zero(t, snap.Nodes[0].InputCount)
	require.Len(t, snap.Nodes[0].Effects, 1)
	assert.Equal(t, effects.KindGain, snap.Nodes[0].Effects[0].Kind,
		"rollback restores the node's chain")
}

func TestCreateConnectionFormatUnavailable(t *testing.T) {
	rig := newTestRig(t)
	rig.api.BreakFormat("spk")

	err := rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrDeviceFormatUnavailable)
	assert.False(t, rig.mic.Started(), "rollback leaves nothing started")
}

func TestDuplicateConnectionIDRejected(t *testing.T) {
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))

	err := rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil)
	assert.ErrorIs(t, err, graph.ErrInvalidConnection)
	assert.Len(t, rig.graph.Snapshot().Connections, 1)
}

func TestProcessingNodePipelineThroughGraph(t *testing.T) {
	rig := newTestRig(t)

	nodeID, err := rig.graph.CreateProcessingNode([]effects.Descriptor{
		{Kind: effects.KindGain, Params: map[string]float64{"factor": 2}},
	})
	require.NoError(t, err)

	require.NoError(t, rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("mic", 0), graph.NodeEndpoint(nodeID), nil))
	require.NoError(t, rig.graph.CreateConnection(uuid.New(),
		graph.NodeEndpoint(nodeID), graph.DeviceEndpoint("spk", 0), nil))

	block := frame.PCMFrame{0.1, 0.2, 0.3, 0.4}
	rig.mic.Push(block, 4, 1)

	got := rig.pull(4)
	for i := range block {
		assert.InDelta(t, float64(block[i]*2), float64(got[i]), 1e-6,
			"node chain applied between mic and spk")
	}

	snap := rig.graph.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, 1, snap.Nodes[0].InputCount)
	assert.Equal(t, 1, snap.Nodes[0].OutputCount)
}

func TestRemoveProcessingNode(t *testing.T) {
	rig := newTestRig(t)

	nodeID, err := rig.graph.CreateProcessingNode(nil)
	require.NoError(t, err)

	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.NodeEndpoint(nodeID), nil))

	err = rig.graph.RemoveProcessingNode(nodeID)
	assert.ErrorIs(t, err, graph.ErrNodeHasConnections)

	require.NoError(t, rig.graph.RemoveConnection(connID))
	require.NoError(t, rig.graph.RemoveProcessingNode(nodeID))

	err = rig.graph.RemoveProcessingNode(nodeID)
	assert.ErrorIs(t, err, graph.ErrProcessingNodeNotFound)
}

func TestSetEffectsOnConnection(t *testing.T) {
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))

	require.NoError(t, rig.graph.SetEffects(connID, []effects.Descriptor{
		{Kind: effects.KindGain, Params: map[string]float64{"factor": 0}},
	}))

	rig.mic.Push(frame.PCMFrame{0.5, 0.5, 0.5, 0.5}, 4, 1)
	assert.Equal(t, frame.Silence(4), rig.pull(4), "zero-gain chain mutes the route")

	snap := rig.graph.Snapshot()
	require.Len(t, snap.Connections, 1)
	require.Len(t, snap.Connections[0].Effects, 1)
	assert.Equal(t, effects.KindGain, snap.Connections[0].Effects[0].Kind)

	err := rig.graph.SetEffects(uuid.New(), nil)
	assert.ErrorIs(t, err, graph.ErrConnectionNotFound)
}

func TestHotReconfigurationPreservesTopology(t *testing.T) {
	// Connections {mic->node, node->spk} where spk's hardware format
	// changes mid-session. The same connection ids must survive, no
	// route may be dropped, and audio must keep flowing.
	rig := newTestRig(t)

	nodeID, err := rig.graph.CreateProcessingNode(nil)
	require.NoError(t, err)
	connA, connB := uuid.New(), uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connA,
		graph.DeviceEndpoint("mic", 0), graph.NodeEndpoint(nodeID), nil))
	require.NoError(t, rig.graph.CreateConnection(connB,
		graph.NodeEndpoint(nodeID), graph.DeviceEndpoint("spk", 0), nil))

	require.Equal(t, 48000.0, rig.graph.CanonicalFormat().SampleRate)

	require.NoError(t, rig.api.SetFormat("spk", monoFormat(96000)))
	require.NoError(t, rig.graph.HandleFormatChange("spk", monoFormat(96000)))

	// Canonical format follows the highest connected device rate.
	assert.Equal(t, 96000.0, rig.graph.CanonicalFormat().SampleRate)

	snap := rig.graph.Snapshot()
	require.Len(t, snap.Connections, 2)
	ids := []uuid.UUID{snap.Connections[0].ID, snap.Connections[1].ID}
	assert.Contains(t, ids, connA)
	assert.Contains(t, ids, connB)

	assert.True(t, rig.mic.Started(), "replacement endpoints are running")
	assert.True(t, rig.spk.Started())

	// Audio still flows through the rebuilt endpoints. The mic now feeds
	// a 48k->96k converter, so pump several blocks through and look for
	// signal at the speaker.
	block := make(frame.PCMFrame, 480)
	for i := range block {
		block[i] = 0.5
	}
	peak := float32(0)
	for b := 0; b < 20; b++ {
		rig.mic.Push(block, 480, 1)
		out := rig.pull(960)
		for _, v := range out {
			if v > peak {
				peak = v
			}
		}
	}
	assert.Greater(t, float64(peak), 0.1, "routes still carry audio after the swap")
}

func TestFormatChangeForUnconnectedDeviceIgnored(t *testing.T) {
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))

	require.NoError(t, rig.graph.HandleFormatChange("ghost", monoFormat(192000)))
	assert.Equal(t, 48000.0, rig.graph.CanonicalFormat().SampleRate)
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))

	rig.graph.Stop()
	assert.False(t, rig.mic.Started())
	assert.False(t, rig.spk.Started())

	rig.graph.Stop()

	err := rig.graph.CreateConnection(uuid.New(),
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil)
	assert.ErrorIs(t, err, graph.ErrInvalidConnection, "stopped graph refuses new work")
}

func TestSnapshotFillLevel(t *testing.T) {
	rig := newTestRig(t)
	connID := uuid.New()
	require.NoError(t, rig.graph.CreateConnection(connID,
		graph.DeviceEndpoint("mic", 0), graph.DeviceEndpoint("spk", 0), nil))

	rig.mic.Push(frame.Silence(1024), 1024, 1)
	snap := rig.graph.Snapshot()
	require.Len(t, snap.Connections, 1)
	assert.Greater(t, snap.Connections[0].FillLevel, 0.0)
}
