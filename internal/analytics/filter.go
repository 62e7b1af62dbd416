package analytics

import "fmt"

// IsZero reports whether the filter has no bounds at all.
func (f Filter) IsZero() bool {
	return f.From == nil && f.To == nil && f.MinAccuracy == nil && f.MaxAccuracy == nil
}

// Validate checks that the bounds are in domain and not inverted.
func (f Filter) Validate() error {
	if f.MinAccuracy != nil {
		if err := ValidateAccuracy(*f.MinAccuracy); err != nil {
			return fmt.Errorf("min accuracy: %w", err)
		}
	}
	if f.MaxAccuracy != nil {
		if err := ValidateAccuracy(*f.MaxAccuracy); err != nil {
			return fmt.Errorf("max accuracy: %w", err)
		}
	}
	if f.MinAccuracy != nil && f.MaxAccuracy != nil && *f.MinAccuracy > *f.MaxAccuracy {
		return fmt.Errorf("%w: min accuracy %v above max %v", ErrInvalidInput, *f.MinAccuracy, *f.MaxAccuracy)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: range starts after it ends", ErrInvalidInput)
	}
	return nil
}
