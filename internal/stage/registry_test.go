package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop() Action {
	return ActionFunc(func(context.Context, *Env) Result { return Succeeded() })
}

func TestNew_Valid(t *testing.T) {
	r, err := New(
		Descriptor{ID: "system-update", DisplayName: "System update", Action: noop()},
		Descriptor{ID: "docker", Action: noop()},
		Descriptor{ID: "validation", Action: noop()},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"system-update", "docker", "validation"}, r.IDs())
	assert.Equal(t, "docker", r.At(1).ID)
	assert.Equal(t, 2, r.Index("validation"))
	assert.Equal(t, -1, r.Index("missing"))

	d, ok := r.Lookup("system-update")
	require.True(t, ok)
	assert.Equal(t, "System update", d.Name())

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, "docker", r.DisplayName("docker"), "falls back to id")
	assert.Equal(t, "unknown", r.DisplayName("unknown"))
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name  string
		descs []Descriptor
		want  string
	}{
		{"empty", nil, "at least one stage"},
		{"empty id", []Descriptor{{ID: "", Action: noop()}}, "invalid id"},
		{"upper case id", []Descriptor{{ID: "Docker", Action: noop()}}, "invalid id"},
		{"duplicate", []Descriptor{{ID: "a", Action: noop()}, {ID: "a", Action: noop()}}, "duplicate id"},
		{"no action", []Descriptor{{ID: "a"}}, "no action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.descs...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNew() })
	assert.NotPanics(t, func() { MustNew(Descriptor{ID: "a", Action: noop()}) })
}

func TestIDs_ReturnsCopy(t *testing.T) {
	r := MustNew(Descriptor{ID: "a", Action: noop()}, Descriptor{ID: "b", Action: noop()})
	ids := r.IDs()
	ids[0] = "mutated"
	assert.Equal(t, "a", r.At(0).ID)
}

func TestResultHelpers(t *testing.T) {
	assert.Equal(t, Result{Outcome: Success}, Succeeded())
	assert.Equal(t, Result{Outcome: Failure, Message: "disk full"}, Failed("disk full"))
	assert.Equal(t, Result{Outcome: Failure, Message: "exit 3"}, Failedf("exit %d", 3))
	assert.Equal(t, Result{Outcome: SuccessRebootRequired, Message: "kernel"}, RebootRequired("kernel"))
	assert.Equal(t, Succeeded(), FromError(nil))
	assert.Equal(t, Failed("boom"), FromError(errors.New("boom")))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "failure", Failure.String())
	assert.Equal(t, "success-reboot-required", SuccessRebootRequired.String())
	assert.Equal(t, "outcome(7)", Outcome(7).String())
}

func TestActionFunc(t *testing.T) {
	var got *Env
	env := &Env{}
	a := ActionFunc(func(_ context.Context, e *Env) Result {
		got = e
		return RebootRequired("x")
	})

	res := a.Execute(context.Background(), env)
	assert.Same(t, env, got)
	assert.Equal(t, SuccessRebootRequired, res.Outcome)
}
