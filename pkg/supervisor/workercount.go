package supervisor

// Built-in worker count bounds, overridable by configuration.
const (
	DefaultWorkerMax     = 4
	DefaultWorkerDefault = 1
)

// ResolveWorkerCount picks how many parallel workers a job gets.
//
// A non-positive requested count means "not requested" and falls back
// to defaultCount. The result is clamped into [1, maxWorkers] and then
// capped at itemCount so a job never gets more workers than it has
// items; a 2-item job never gets 4 workers even when the ceiling
// allows it.
func ResolveWorkerCount(itemCount, requested, defaultCount, maxWorkers int) int {
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkerMax
	}
	if defaultCount <= 0 {
		defaultCount = DefaultWorkerDefault
	}

	n := requested
	if n <= 0 {
		n = defaultCount
	}
	if n < 1 {
		n = 1
	}
	if n > maxWorkers {
		n = maxWorkers
	}

	ceil := itemCount
	if ceil < 1 {
		ceil = 1
	}
	if n > ceil {
		n = ceil
	}
	return n
}
