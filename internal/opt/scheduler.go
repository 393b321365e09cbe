package opt

import "math"

// Scheduler adjusts an optimizer's learning rate during training.
type Scheduler interface {
	Step()
	StepWithLoss(loss float64)
	LR() float64
}

// BaseScheduler provides default implementations for Scheduler.
type BaseScheduler struct{}

func (s BaseScheduler) Step()                     {}
func (s BaseScheduler) StepWithLoss(loss float64) {}

// StepLR multiplies the learning rate by gamma every stepSize epochs.
type StepLR struct {
	BaseScheduler
	optimizer Optimizer
	stepSize  int
	gamma     float64
	lastEpoch int
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{
		optimizer: optimizer,
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

func (s *StepLR) Step() {
	s.lastEpoch++
	if s.lastEpoch%s.stepSize == 0 {
		s.optimizer.SetLearningRate(s.optimizer.LearningRate() * s.gamma)
	}
}

func (s *StepLR) LR() float64 {
	return s.optimizer.LearningRate()
}

// ExponentialLR multiplies the learning rate by gamma every epoch.
type ExponentialLR struct {
	BaseScheduler
	optimizer Optimizer
	gamma     float64
}

func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{optimizer: optimizer, gamma: gamma}
}

func (s *ExponentialLR) Step() {
	s.optimizer.SetLearningRate(s.optimizer.LearningRate() * s.gamma)
}

func (s *ExponentialLR) LR() float64 {
	return s.optimizer.LearningRate()
}

// ReduceLROnPlateau reduces the learning rate when the loss has stopped
// improving for patience epochs, with an optional cooldown after each
// reduction and a floor at minLR.
type ReduceLROnPlateau struct {
	BaseScheduler
	optimizer Optimizer
	factor    float64
	patience  int
	threshold float64
	cooldown  int
	minLR     float64

	bestLoss        float64
	numBadEpochs    int
	cooldownCounter int
}

func NewReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold float64, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		optimizer: optimizer,
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		minLR:     minLR,
		bestLoss:  math.MaxFloat64,
	}
}

func (s *ReduceLROnPlateau) StepWithLoss(currentLoss float64) {
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		return
	}

	if currentLoss < s.bestLoss-s.threshold {
		s.bestLoss = currentLoss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.numBadEpochs >= s.patience {
		newLR := s.optimizer.LearningRate() * s.factor
		if newLR < s.minLR {
			newLR = s.minLR
		}
		s.optimizer.SetLearningRate(newLR)
		s.numBadEpochs = 0
		s.cooldownCounter = s.cooldown
	}
}

func (s *ReduceLROnPlateau) LR() float64 {
	return s.optimizer.LearningRate()
}
