package net

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convnet-go/convnet/internal/opt"
)

func TestEarlyStoppingCountsBadEpochs(t *testing.T) {
	es := NewEarlyStopping(2, 1e-4)

	es.OnEpochEnd(0, 1.0, nil)
	es.OnEpochEnd(1, 0.5, nil)
	assert.False(t, es.Stopped)

	es.OnEpochEnd(2, 0.5, nil)
	assert.False(t, es.Stopped)

	es.OnEpochEnd(3, 0.5, nil)
	assert.True(t, es.Stopped)
}

func TestEarlyStoppingResetsOnImprovement(t *testing.T) {
	es := NewEarlyStopping(2, 1e-4)

	es.OnEpochEnd(0, 1.0, nil)
	es.OnEpochEnd(1, 1.0, nil)
	es.OnEpochEnd(2, 0.5, nil) // improvement resets the counter
	es.OnEpochEnd(3, 0.5, nil)
	assert.False(t, es.Stopped)
}

func TestSchedulerCallbackDrivesScheduler(t *testing.T) {
	s := opt.NewSGD(1.0)
	cb := NewSchedulerCallback(opt.NewReduceLROnPlateau(s, 0.5, 1, 0, 0))

	cb.OnEpochEnd(0, 1.0, nil)
	assert.Equal(t, 1.0, s.LearningRate())

	cb.OnEpochEnd(1, 1.0, nil)
	assert.Equal(t, 0.5, s.LearningRate())
}

func TestCSVLoggerWritesCostCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")

	logger := NewCSVLogger(path, false)
	logger.OnTrainBegin(nil)
	logger.OnEpochEnd(0, 0.7, nil)
	logger.OnEpochEnd(1, 0.35, nil)
	logger.OnTrainEnd(nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"epoch", "cost", "time_seconds"}, records[0])
	assert.Equal(t, "0", records[1][0])
	assert.Equal(t, "0.700000", records[1][1])
	assert.Equal(t, "1", records[2][0])
	assert.Equal(t, "0.350000", records[2][1])
}
