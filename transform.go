package epochcache

import "fmt"

// Transform is the capability interface for signal transforms.
//
// Apply must be pure: it returns a new signal and never mutates its
// input, which may alias cached or trial memory. A failed Apply reports
// an error; the caller wraps it with [ErrTransform] and chunk context.
type Transform interface {
	Apply(signal Signal) (Signal, error)
}

// TransformFunc adapts a function to the [Transform] interface.
type TransformFunc func(signal Signal) (Signal, error)

// Apply implements [Transform].
func (f TransformFunc) Apply(signal Signal) (Signal, error) {
	return f(signal)
}

// LabelTransform is the capability interface for label-record transforms.
//
// ApplyLabels must not mutate its input record.
type LabelTransform interface {
	ApplyLabels(labels Labels) (Labels, error)
}

// LabelTransformFunc adapts a function to the [LabelTransform] interface.
type LabelTransformFunc func(labels Labels) (Labels, error)

// ApplyLabels implements [LabelTransform].
func (f LabelTransformFunc) ApplyLabels(labels Labels) (Labels, error) {
	return f(labels)
}

// Compose chains signal transforms left to right. Compose of nothing is
// the identity.
func Compose(transforms ...Transform) Transform {
	return TransformFunc(func(signal Signal) (Signal, error) {
		for i, transform := range transforms {
			if transform == nil {
				continue
			}

			out, err := transform.Apply(signal)
			if err != nil {
				return nil, fmt.Errorf("transform %d: %w", i, err)
			}

			signal = out
		}

		return signal, nil
	})
}

// Select returns a label transform that reduces the record to the single
// named field. A record without the field fails with [ErrTransform].
func Select(field string) LabelTransform {
	return LabelTransformFunc(func(labels Labels) (Labels, error) {
		value, ok := labels[field]
		if !ok {
			return nil, fmt.Errorf("%w: label field %q not present", ErrTransform, field)
		}

		return Labels{field: value}, nil
	})
}

// applyOffline runs the offline transform on a chunk's signal. A nil
// transform is the identity.
func applyOffline(transform Transform, signal Signal) (Signal, error) {
	if transform == nil {
		return signal, nil
	}

	return transform.Apply(signal)
}
