package common

import "fmt"

// PanicSanity panics on a condition that indicates a programmer error
// rather than bad input.
func PanicSanity(v interface{}) {
	panic(fmt.Sprintf("Panicked on a Sanity Check: %v", v))
}
