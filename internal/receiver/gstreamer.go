//go:build gstreamer

package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

const gstPipelineKey = "gstreamer"

// busPoll is how long each bus poll blocks, bounding Stop latency.
const busPoll = 50 * time.Millisecond

var gstInitOnce sync.Once

func init() {
	RegisterPipeline(gstPipelineKey, func(opts Options) (Factory, error) {
		gstInitOnce.Do(func() { gst.Init(nil) })
		return func(port int, onSample SampleFunc) (Pipeline, error) {
			return NewGStreamerPipeline(port, opts, onSample)
		}, nil
	})
}

// gstLaunch is the receive graph: depayload, decode, rotate clockwise and
// hand BGR frames to an appsink that keeps only the newest buffer.
const gstLaunch = `udpsrc name=src port=%d address=%s caps="application/x-rtp,media=video,clock-rate=90000,encoding-name=H264,payload=%d" ` +
	`! rtph264depay ! avdec_h264 ! videoconvert ! videoflip method=clockwise ` +
	`! video/x-raw,format=BGR ! appsink name=sink max-buffers=1 drop=true sync=false`

// GStreamerPipeline decodes with a GStreamer graph built by go-gst.
type GStreamerPipeline struct {
	port     int
	pipeline *gst.Pipeline
	sink     *app.Sink
	onSample SampleFunc
	logger   *logger.Logger
}

// NewGStreamerPipeline builds the graph without starting it.
func NewGStreamerPipeline(port int, opts Options, onSample SampleFunc) (*GStreamerPipeline, error) {
	host := opts.ListenHost
	if host == "" {
		host = defaultListen
	}

	pipeline, err := gst.NewPipelineFromString(fmt.Sprintf(gstLaunch, port, host, opts.PayloadType))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	p := &GStreamerPipeline{
		port:     port,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		onSample: onSample,
		logger:   log.With("port", port),
	}
	p.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.newSample,
	})
	return p, nil
}

// newSample copies the mapped buffer since GStreamer reuses it.
func (p *GStreamerPipeline) newSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	width, height, ok := sampleSize(sample)
	if !ok {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < width*height*3 {
		buffer.Unmap()
		p.logger.Debug("Short buffer from appsink", "bytes", len(data))
		return gst.FlowOK
	}
	f := frame.New(width, height, 3)
	copyRows(f, data, len(data)/height)
	buffer.Unmap()

	p.onSample(f)
	return gst.FlowOK
}

func sampleSize(sample *gst.Sample) (int, int, bool) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, false
	}
	st := caps.GetStructureAt(0)
	w, err := st.GetValue("width")
	if err != nil {
		return 0, 0, false
	}
	h, err := st.GetValue("height")
	if err != nil {
		return 0, 0, false
	}
	width, ok1 := w.(int)
	height, ok2 := h.(int)
	return width, height, ok1 && ok2 && width > 0 && height > 0
}

// copyRows drops the row padding GStreamer adds to 4 byte align BGR rows.
func copyRows(dst *frame.Frame, src []byte, srcStride int) {
	stride := dst.Stride()
	for y := 0; y < dst.Height; y++ {
		copy(dst.Pix[y*stride:(y+1)*stride], src[y*srcStride:])
	}
}

// Run plays the graph and watches its bus until ctx is cancelled or the
// graph reports an error or end of stream.
func (p *GStreamerPipeline) Run(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer func() {
		_ = p.pipeline.SetState(gst.StateNull)
	}()

	bus := p.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(busPoll)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return errors.New("end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			p.logger.Error("GStreamer pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				p.logger.Debug("Pipeline state changed", "state", newState.String())
			}
		}
	}
}
