package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/intrinsics"
)

func event(t *testing.T, name string, payload any) events.Event {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return events.Event{Name: name, Data: b}
}

func TestDescribeEvent(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{
			name: "accepted capture",
			ev:   event(t, events.CalibrationCapture, events.CalibrationCaptureEvent{Captured: 2, Required: 3, Accepted: true}),
			want: "✔ captured 2/3",
		},
		{
			name: "rejected capture",
			ev:   event(t, events.CalibrationCapture, events.CalibrationCaptureEvent{Captured: 2, Required: 3}),
			want: "✘ board not fully visible, frame ignored",
		},
		{
			name: "insufficient",
			ev:   event(t, events.CalibrationInsufficient, events.CalibrationCaptureEvent{Captured: 1, Required: 3}),
			want: "need at least 3 frames to calibrate, have 1",
		},
		{
			name: "solved",
			ev:   event(t, events.CalibrationSolved, events.CalibrationResultEvent{Frames: 5, RMS: 0.25, Path: "camCalib"}),
			want: "✔ calibrated from 5 frames, reprojection error 0.2500 px, saved to camCalib",
		},
		{
			name: "failed",
			ev:   event(t, events.CalibrationFailed, events.CalibrationResultEvent{Error: "disk full"}),
			want: "✘ calibration failed: disk full",
		},
		{
			name: "markers",
			ev:   event(t, events.TrackerMarkers, events.TrackerMarkersEvent{IDs: []int{3, 7}}),
			want: "markers in view: [3 7]",
		},
		{
			name: "markers gone",
			ev:   event(t, events.TrackerMarkers, events.TrackerMarkersEvent{IDs: []int{}}),
			want: "no markers in view",
		},
		{
			name: "phase changes are not printed",
			ev:   event(t, events.CalibrationPhase, events.CalibrationPhaseEvent{From: "idle", To: "streaming"}),
		},
		{
			name: "garbage payload",
			ev:   events.Event{Name: events.CalibrationSolved, Data: json.RawMessage(`"nope"`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeEvent(tt.ev); got != tt.want {
				t.Errorf("describeEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWatchEventsStopsOnClose(t *testing.T) {
	color.NoColor = true
	hub := events.NewEventHub()
	var buf bytes.Buffer

	done := watchEvents(hub, &buf)
	hub.Publish(events.TrackerMarkers, events.TrackerMarkersEvent{IDs: []int{1}})
	hub.Close()
	<-done

	if got := buf.String(); got != "markers in view: [1]\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestPrintIntrinsics(t *testing.T) {
	color.NoColor = true
	in, err := intrinsics.New([]float64{600, 0, 320, 0, 600, 240, 0, 0, 1}, []float64{0.1, -0.2, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printIntrinsics(&buf, "camCalib", in)
	out := buf.String()
	for _, want := range []string{"Camera matrix:", "600", "Distortion coefficients:", "-0.2", "Stored in camCalib"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}
