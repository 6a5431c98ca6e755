package main

import (
	"flag"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/device"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/graph"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
)

// Demo session: a generated test tone routed through a low-pass processing
// node into a wav file on disk. Exercises the full path a live device pair
// would take, without needing audio hardware.
func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	sessionFormat := format.StreamFormat{
		SampleRate:  format.DefaultSampleRate,
		NumChannels: 1,
		Interleaved: true,
	}
	const blockFrames = 480 // 10ms at 48kHz

	tone := device.NewToneCaptureEndpoint(
		sessionFormat,
		viper.GetFloat64("tonefrequency"),
		0.5,
		blockFrames,
	)

	sink, err := device.NewWavRenderEndpoint(
		viper.GetString("outputwav"),
		sessionFormat,
		blockFrames,
	)
	if err != nil {
		slog.Error("error creating wav render endpoint",
			"err", err,
			"outputwav", viper.GetString("outputwav"),
		)
		panic(err)
	}
	defer sink.Close()

	api := device.NewStaticAPI()
	api.RegisterCapture("tone", sessionFormat, tone)
	api.RegisterRender("wav", sessionFormat, sink)

	// --------------------------------------------------------------------------------

	g := graph.New(api, graph.Config{
		RingCapacityFrames: viper.GetInt("ringcapacityframes"),
		ResampleQuality:    viper.GetInt("resamplequality"),
	}, nil)
	defer g.Stop()

	nodeID, err := g.CreateProcessingNode([]effects.Descriptor{
		{Kind: effects.KindLowPass, Params: map[string]float64{"cutoff": 2000}},
	})
	if err != nil {
		slog.Error("error creating processing node", "err", err)
		panic(err)
	}

	for _, c := range []struct {
		from, to graph.Endpoint
	}{
		{graph.DeviceEndpoint("tone", 0), graph.NodeEndpoint(nodeID)},
		{graph.NodeEndpoint(nodeID), graph.DeviceEndpoint("wav", 0)},
	} {
		if err := g.CreateConnection(uuid.New(), c.from, c.to, nil); err != nil {
			slog.Error("error creating connection",
				"err", err,
				"from", c.from.String(),
				"to", c.to.String(),
			)
			panic(err)
		}
	}

	// --------------------------------------------------------------------------------

	runDuration := time.Duration(viper.GetInt("runduration")) * time.Second
	slog.Info("session running",
		"runDuration", runDuration,
		"outputwav", viper.GetString("outputwav"),
	)
	time.Sleep(runDuration)

	snapshot := g.Snapshot()
	for _, conn := range snapshot.Connections {
		slog.Info("connection state",
			"id", conn.ID,
			"from", conn.From.String(),
			"to", conn.To.String(),
			"fillLevel", conn.FillLevel,
		)
	}
}
