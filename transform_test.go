package epochcache

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestComposeOrder(t *testing.T) {
	t.Parallel()

	add := func(delta float64) Transform {
		return TransformFunc(func(signal Signal) (Signal, error) {
			out := make(Signal, len(signal))

			for c, row := range signal {
				out[c] = make([]float64, len(row))

				for i, v := range row {
					out[c][i] = v + delta
				}
			}

			return out, nil
		})
	}

	scale := TransformFunc(func(signal Signal) (Signal, error) {
		out := make(Signal, len(signal))

		for c, row := range signal {
			out[c] = make([]float64, len(row))

			for i, v := range row {
				out[c][i] = 10 * v
			}
		}

		return out, nil
	})

	// (1+2)*10, left to right.
	composed := Compose(add(2), scale)

	out, err := composed.Apply(Signal{{1}})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(Signal{{30}}, out); diff != "" {
		t.Errorf("compose order mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeEmptyIsIdentity(t *testing.T) {
	t.Parallel()

	in := Signal{{1, 2}, {3, 4}}

	out, err := Compose().Apply(in)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("identity mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeSkipsNil(t *testing.T) {
	t.Parallel()

	out, err := Compose(nil, nil).Apply(Signal{{5}})
	if err != nil {
		t.Fatal(err)
	}

	if out[0][0] != 5 {
		t.Errorf("expected nil transforms to be skipped, got %v", out)
	}
}

func TestComposePropagatesError(t *testing.T) {
	t.Parallel()

	failing := TransformFunc(func(Signal) (Signal, error) {
		return nil, errors.New("band power: empty window")
	})

	_, err := Compose(failing).Apply(Signal{{1}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	labels := Labels{"subject": 1, "event": 2}

	out, err := Select("event").ApplyLabels(labels)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(Labels{"event": 2}, out); diff != "" {
		t.Errorf("select mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectMissingField(t *testing.T) {
	t.Parallel()

	_, err := Select("event").ApplyLabels(Labels{"subject": 1})
	if !errors.Is(err, ErrTransform) {
		t.Errorf("expected ErrTransform, got %v", err)
	}
}
