/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"sync"
)

// CompositeUnit runs several units as a single one.
// Units are started concurrently and stopped one by one in reverse order, so the first unit is stopped last.
type CompositeUnit struct {
	Units []Unit
}

var (
	_ Unit              = (*CompositeUnit)(nil)
	_ MetricsRegisterer = (*CompositeUnit)(nil)
)

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{Units: units}
}

// Start starts all units and returns when every unit's Start has returned.
// When a unit fails, the rest of them are stopped non-gracefully and all errors,
// including ones returned by Stop, are joined and reported to fatalErr.
func (cu *CompositeUnit) Start(fatalErr chan<- error) {
	unitErrs := make(chan error, len(cu.Units))
	var wg sync.WaitGroup
	wg.Add(len(cu.Units))
	for _, unit := range cu.Units {
		go func(unit Unit) {
			defer wg.Done()
			unitErr := make(chan error, 1)
			unit.Start(unitErr)
			select {
			case err := <-unitErr:
				unitErrs <- err
			default:
			}
		}(unit)
	}
	allReturned := make(chan struct{})
	go func() {
		wg.Wait()
		close(allReturned)
	}()

	select {
	case <-allReturned:
		if len(unitErrs) == 0 {
			return
		}
	case err := <-unitErrs:
		unitErrs <- err
	}

	stopErr := cu.Stop(false)
	<-allReturned
	close(unitErrs)
	errs := make([]error, 0, len(cu.Units)+1)
	for err := range unitErrs {
		errs = append(errs, err)
	}
	fatalErr <- errors.Join(append(errs, stopErr)...)
}

// Stop stops units in reverse order. Errors of all units are joined.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	var errs []error
	for i := len(cu.Units) - 1; i >= 0; i-- {
		if err := cu.Units[i].Stop(gracefully); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MustRegisterMetrics registers metrics of all units that export them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	cu.forEachMetricsRegisterer(MetricsRegisterer.MustRegisterMetrics)
}

// UnregisterMetrics unregisters metrics of all units that export them.
func (cu *CompositeUnit) UnregisterMetrics() {
	cu.forEachMetricsRegisterer(MetricsRegisterer.UnregisterMetrics)
}

func (cu *CompositeUnit) forEachMetricsRegisterer(fn func(MetricsRegisterer)) {
	for _, unit := range cu.Units {
		if mr, ok := unit.(MetricsRegisterer); ok {
			fn(mr)
		}
	}
}
