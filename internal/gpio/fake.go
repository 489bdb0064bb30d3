package gpio

// FakeValve records valve commands for test assertions.
type FakeValve struct {
	// IsOpen is the current valve position.
	IsOpen bool

	// Opens and Closes count commands issued.
	Opens  int
	Closes int

	// OpenError, if set, is returned by Open (the position still changes,
	// as a fire-and-forget line write would).
	OpenError error

	// Released tracks if Release was called.
	Released bool
}

// NewFakeValve creates a closed FakeValve.
func NewFakeValve() *FakeValve {
	return &FakeValve{}
}

// Open records an open command.
func (f *FakeValve) Open() error {
	f.Opens++
	f.IsOpen = true
	return f.OpenError
}

// Close records a close command.
func (f *FakeValve) Close() error {
	f.Closes++
	f.IsOpen = false
	return nil
}

// Release closes the valve and marks it released.
func (f *FakeValve) Release() error {
	f.IsOpen = false
	f.Released = true
	return nil
}

// FakeHeater records heater levels.
type FakeHeater struct {
	// Levels contains every level set, in order.
	Levels []float64

	// SetError, if set, is returned by SetLevel (the level is not recorded).
	SetError error

	// Released tracks if Release was called.
	Released bool
}

// NewFakeHeater creates a FakeHeater.
func NewFakeHeater() *FakeHeater {
	return &FakeHeater{}
}

// SetLevel records level.
func (f *FakeHeater) SetLevel(level float64) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Levels = append(f.Levels, level)
	return nil
}

// Level returns the most recent level, or 0 if none was set.
func (f *FakeHeater) Level() float64 {
	if len(f.Levels) == 0 {
		return 0
	}
	return f.Levels[len(f.Levels)-1]
}

// Release marks the heater released.
func (f *FakeHeater) Release() error {
	f.Released = true
	f.Levels = append(f.Levels, 0)
	return nil
}
