/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRequireSamplesCountInCounter(t *testing.T) {
	eventsCounter := prometheus.NewCounter(prometheus.CounterOpts{Name: "events"})
	eventsCounter.Add(42)

	mockT := &recordingT{}
	RequireSamplesCountInCounter(mockT, eventsCounter, 41)
	require.True(t, mockT.failed)

	mockT = &recordingT{}
	RequireSamplesCountInCounter(mockT, eventsCounter, 42)
	require.False(t, mockT.failed)
}

func TestRequireGaugeValue(t *testing.T) {
	slotsGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "slots"}, []string{"table"})
	slotsGauge.WithLabelValues("ip").Set(3)

	mockT := &recordingT{}
	RequireGaugeValue(mockT, slotsGauge.WithLabelValues("ip"), 2)
	require.True(t, mockT.failed)

	mockT = &recordingT{}
	RequireGaugeValue(mockT, slotsGauge.WithLabelValues("ip"), 3)
	require.False(t, mockT.failed)
}
