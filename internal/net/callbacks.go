package net

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/convnet-go/convnet/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(epoch int, cost float64, n *Network)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                        {}
func (c BaseCallback) OnTrainEnd(n *Network)                          {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)             {}
func (c BaseCallback) OnEpochEnd(epoch int, cost float64, n *Network) {}

// Logger prints training progress to stdout every Interval epochs.
type Logger struct {
	BaseCallback
	Interval int
}

func (c Logger) OnEpochEnd(epoch int, cost float64, n *Network) {
	if c.Interval > 0 && epoch%c.Interval == 0 {
		fmt.Printf("Epoch %d: cost = %.6f\n", epoch, cost)
	}
}

// EarlyStopping stops training when the cost has stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64

	bestCost     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestCost:  math.MaxFloat64,
	}
}

func (c *EarlyStopping) OnEpochEnd(epoch int, cost float64, n *Network) {
	if cost < c.bestCost-c.Threshold {
		c.bestCost = cost
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.numBadEpochs >= c.Patience {
		fmt.Printf("\nEarly stopping at epoch %d: cost %.6f did not improve for %d epochs\n", epoch, cost, c.Patience)
		c.Stopped = true
	}
}

// SchedulerCallback drives a learning rate scheduler from epoch boundaries.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(epoch int, cost float64, n *Network) {
	c.scheduler.Step()
	c.scheduler.StepWithLoss(cost)
}

// CSVLogger appends the cost curve to a CSV file as training runs.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{Filename: filename, Append: append}
}

func (c *CSVLogger) OnTrainBegin(n *Network) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		fmt.Printf("CSVLogger: failed to open file %s: %v\n", c.Filename, err)
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write([]string{"epoch", "cost", "time_seconds"})
		c.writer.Flush()
	}
}

func (c *CSVLogger) OnEpochEnd(epoch int, cost float64, n *Network) {
	if c.writer == nil {
		return
	}

	elapsed := time.Since(c.start).Seconds()
	record := []string{
		strconv.Itoa(epoch),
		fmt.Sprintf("%.6f", cost),
		fmt.Sprintf("%.2f", elapsed),
	}

	if err := c.writer.Write(record); err != nil {
		fmt.Printf("CSVLogger: failed to write record: %v\n", err)
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}
