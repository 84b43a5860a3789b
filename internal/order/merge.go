package order

import "fmt"

// Merge completes a generic payload with a counterpart's bytes: every bit
// set in mask is taken from desired, every other bit is kept from own.
// An empty mask leaves own unchanged. own, desired and mask must have
// equal lengths otherwise.
func Merge(own, desired, mask []byte) ([]byte, error) {
	out := append([]byte(nil), own...)
	if len(mask) == 0 {
		return out, nil
	}
	if len(own) != len(mask) || len(desired) != len(mask) {
		return nil, fmt.Errorf("merge: payload %d, counterpart %d and mask %d bytes differ", len(own), len(desired), len(mask))
	}
	for i := range out {
		out[i] = out[i]&^mask[i] | desired[i]&mask[i]
	}
	return out, nil
}
