package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Secure channel metrics
var (
	ChannelFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_channel_frames_total",
			Help: "Total number of secure channel frames sealed or opened",
		},
		[]string{"direction", "result"},
	)

	ChannelHandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_channel_handshakes_total",
			Help: "Total number of secure channel handshakes attempted",
		},
		[]string{"auth_mode", "result"},
	)
)
