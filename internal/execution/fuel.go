package execution

import "fmt"

// FuelMeter tracks consumed execution fuel and enforces the configured
// limit, the sandboxed execution engine's analogue of core/virtual_machine.go's
// GasMeter.
type FuelMeter struct {
	used  uint64
	limit uint64
}

// NewFuelMeter constructs a FuelMeter with the given fuel limit.
func NewFuelMeter(limit uint64) *FuelMeter {
	return &FuelMeter{limit: limit}
}

// ErrFuelExhausted is returned by Consume when the limit would be exceeded.
var ErrFuelExhausted = fmt.Errorf("execution: fuel exhausted")

// Consume deducts cost units of fuel, failing if that would exceed the
// configured limit.
func (f *FuelMeter) Consume(cost uint64) error {
	if f.used+cost > f.limit {
		return ErrFuelExhausted
	}
	f.used += cost
	return nil
}

// Used returns the fuel consumed so far.
func (f *FuelMeter) Used() uint64 { return f.used }

// Remaining returns the fuel left before Consume starts failing.
func (f *FuelMeter) Remaining() uint64 { return f.limit - f.used }
