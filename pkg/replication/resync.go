package replication

// ResyncPolicy decides on which ticks entities flagged for periodic resync
// bypass dirty tracking. Replicas that lost a delta converge again within
// one period.
type ResyncPolicy struct {
	// Period is the resync cadence in ticks. Zero disables periodic resync.
	Period uint64
}

// Due reports whether tick is a resync tick.
func (p ResyncPolicy) Due(tick uint64) bool {
	return p.Period > 0 && tick%p.Period == 0
}

// StepClock is a Clock advanced by a fixed step per tick.
type StepClock struct {
	tick uint64
	step float64
}

// NewStepClock creates a clock at tick 0 running at rate ticks per second.
func NewStepClock(rate int) *StepClock {
	if rate <= 0 {
		rate = 1
	}
	return &StepClock{step: 1 / float64(rate)}
}

// Advance moves the clock one tick forward.
func (c *StepClock) Advance() {
	c.tick++
}

// Tick implements Clock.
func (c *StepClock) Tick() uint64 {
	return c.tick
}

// Time implements Clock. It returns seconds since tick 0.
func (c *StepClock) Time() float64 {
	return float64(c.tick) * c.step
}

// Step returns the seconds per tick.
func (c *StepClock) Step() float64 {
	return c.step
}
